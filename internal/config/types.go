// Package config resolves, parses, validates, and defaults dictum configuration.
package config

// Config is the fully materialized runtime configuration used by dictum.
type Config struct {
	DataDir       string
	Audio         AudioConfig
	Transcriber   TranscriberConfig
	AIEditor      AIEditorConfig
	Dictionary    DictionaryConfig
	Snippets      SnippetsConfig
	VoiceCommands VoiceCommandsConfig
	AppContext    AppContextConfig
	Queue         QueueConfig
	History       HistoryConfig
	Paste         PasteConfig
	Indicator     IndicatorConfig
	Clipboard     CommandConfig
	PasteCmd      CommandConfig
	Debug         DebugConfig
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input      string
	Fallback   string
	SampleRate int
}

// TranscriberConfig points at the whisper.cpp compatible inference server.
type TranscriberConfig struct {
	Endpoint   string
	Language   string
	Model      string
	Prompt     string
	TimeoutMS  int
	GRPCHealth string
}

// AIEditorConfig controls the optional LLM rewrite stage.
type AIEditorConfig struct {
	Enable    bool
	Preset    string
	Model     string
	BaseURL   string
	APIKeyEnv string
	TimeoutMS int
}

// DictionaryConfig controls transcription corrections.
type DictionaryConfig struct {
	Enable    bool
	AutoLearn bool
	Path      string
}

// SnippetsConfig controls trigger phrase expansion.
type SnippetsConfig struct {
	Enable bool
	Path   string
}

type VoiceCommandsConfig struct {
	Enable bool
}

// AppContextConfig maps foreground window classes to editor presets.
type AppContextConfig struct {
	Enable  bool
	Presets map[string]string
}

// QueueConfig controls background retry cadence and retention.
type QueueConfig struct {
	RetryIntervalS int
	MaxAgeDays     int
}

type HistoryConfig struct {
	Path string
}

// PasteConfig controls post-transcription paste behavior.
type PasteConfig struct {
	Enable           bool
	Shortcut         string
	RestoreClipboard bool
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable            bool
	Backend           string
	DesktopAppName    string
	SoundEnable       bool
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundCancelFile   string
	TextRecording     string
	TextProcessing    string
	TextError         string
	ErrorTimeoutMS    int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Presets lists the editor presets understood by the AI editor and app context mapping.
var Presets = []string{"default", "email", "commit", "notes", "code"}

// KnownPreset reports whether name is one of Presets.
func KnownPreset(name string) bool {
	for _, p := range Presets {
		if p == name {
			return true
		}
	}
	return false
}
