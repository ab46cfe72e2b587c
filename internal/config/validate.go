package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}

	endpoint := strings.TrimSpace(cfg.Transcriber.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("transcriber.endpoint must not be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("transcriber.endpoint must be an http(s) URL")
	}
	if strings.TrimSpace(cfg.Transcriber.Language) == "" {
		return nil, fmt.Errorf("transcriber.language must not be empty")
	}
	if cfg.Transcriber.TimeoutMS <= 0 {
		return nil, fmt.Errorf("transcriber.timeout_ms must be > 0")
	}

	if !KnownPreset(cfg.AIEditor.Preset) {
		return nil, fmt.Errorf("ai_editor.preset must be one of: %s", strings.Join(Presets, ", "))
	}
	if cfg.AIEditor.TimeoutMS <= 0 {
		return nil, fmt.Errorf("ai_editor.timeout_ms must be > 0")
	}
	if cfg.AIEditor.Enable {
		if strings.TrimSpace(cfg.AIEditor.Model) == "" {
			return nil, fmt.Errorf("ai_editor.model must not be empty when ai_editor.enable=true")
		}
		if strings.TrimSpace(cfg.AIEditor.APIKeyEnv) == "" {
			return nil, fmt.Errorf("ai_editor.api_key_env must not be empty when ai_editor.enable=true")
		}
	}

	classes := make([]string, 0, len(cfg.AppContext.Presets))
	for class := range cfg.AppContext.Presets {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		preset := cfg.AppContext.Presets[class]
		if !KnownPreset(preset) {
			return nil, fmt.Errorf("app_context.presets[%q] has unknown preset %q", class, preset)
		}
	}
	if len(classes) > 0 && !cfg.AIEditor.Enable {
		warnings = append(warnings, Warning{Message: "app_context.presets has no effect while ai_editor.enable=false"})
	}

	if cfg.Queue.RetryIntervalS <= 0 {
		return nil, fmt.Errorf("queue.retry_interval_s must be > 0")
	}
	if cfg.Queue.MaxAgeDays <= 0 {
		return nil, fmt.Errorf("queue.max_age_days must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Clipboard.Raw != "" && len(cfg.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("clipboard_cmd is configured but empty")
	}
	if cfg.Paste.Enable && cfg.PasteCmd.Raw != "" && len(cfg.PasteCmd.Argv) == 0 {
		return nil, fmt.Errorf("paste_cmd is configured but empty")
	}
	if cfg.Paste.Enable && len(cfg.PasteCmd.Argv) == 0 && strings.TrimSpace(cfg.Paste.Shortcut) == "" {
		return nil, fmt.Errorf("paste.shortcut must not be empty when paste.enable=true and paste_cmd is unset")
	}

	if cfg.Dictionary.AutoLearn && !cfg.Dictionary.Enable {
		warnings = append(warnings, Warning{Message: "dictionary.auto_learn has no effect while dictionary.enable=false"})
	}

	return warnings, nil
}
