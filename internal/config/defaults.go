package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			SampleRate: 16000,
		},
		Transcriber: TranscriberConfig{
			Endpoint:  "http://127.0.0.1:8080",
			Language:  "en",
			TimeoutMS: 30000,
		},
		AIEditor: AIEditorConfig{
			Enable:    false,
			Preset:    "default",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			TimeoutMS: 15000,
		},
		Dictionary:    DictionaryConfig{Enable: true, AutoLearn: true},
		Snippets:      SnippetsConfig{Enable: true},
		VoiceCommands: VoiceCommandsConfig{Enable: true},
		AppContext: AppContextConfig{
			Enable:  true,
			Presets: map[string]string{},
		},
		Queue: QueueConfig{RetryIntervalS: 30, MaxAgeDays: 7},
		Paste: PasteConfig{Enable: true, Shortcut: "CTRL,V", RestoreClipboard: true},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "dictum",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Debug: DebugConfig{},
	}
}
