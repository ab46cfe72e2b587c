package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	DataDir       *string             `json:"data_dir"`
	Audio         *jsoncAudio         `json:"audio"`
	Transcriber   *jsoncTranscriber   `json:"transcriber"`
	AIEditor      *jsoncAIEditor      `json:"ai_editor"`
	Dictionary    *jsoncDictionary    `json:"dictionary"`
	Snippets      *jsoncSnippets      `json:"snippets"`
	VoiceCommands *jsoncVoiceCommands `json:"voice_commands"`
	AppContext    *jsoncAppContext    `json:"app_context"`
	Queue         *jsoncQueue         `json:"queue"`
	History       *jsoncHistory       `json:"history"`
	Paste         *jsoncPaste         `json:"paste"`
	Indicator     *jsoncIndicator     `json:"indicator"`

	ClipboardCmd *string     `json:"clipboard_cmd"`
	PasteCmd     *string     `json:"paste_cmd"`
	Debug        *jsoncDebug `json:"debug"`
}

type jsoncAudio struct {
	Input      *string `json:"input"`
	Fallback   *string `json:"fallback"`
	SampleRate *int    `json:"sample_rate"`
}

type jsoncTranscriber struct {
	Endpoint   *string `json:"endpoint"`
	Language   *string `json:"language"`
	Model      *string `json:"model"`
	Prompt     *string `json:"prompt"`
	TimeoutMS  *int    `json:"timeout_ms"`
	GRPCHealth *string `json:"grpc_health"`
}

type jsoncAIEditor struct {
	Enable    *bool   `json:"enable"`
	Preset    *string `json:"preset"`
	Model     *string `json:"model"`
	BaseURL   *string `json:"base_url"`
	APIKeyEnv *string `json:"api_key_env"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncDictionary struct {
	Enable    *bool   `json:"enable"`
	AutoLearn *bool   `json:"auto_learn"`
	Path      *string `json:"path"`
}

type jsoncSnippets struct {
	Enable *bool   `json:"enable"`
	Path   *string `json:"path"`
}

type jsoncVoiceCommands struct {
	Enable *bool `json:"enable"`
}

type jsoncAppContext struct {
	Enable  *bool             `json:"enable"`
	Presets map[string]string `json:"presets"`
}

type jsoncQueue struct {
	RetryIntervalS *int `json:"retry_interval_s"`
	MaxAgeDays     *int `json:"max_age_days"`
}

type jsoncHistory struct {
	Path *string `json:"path"`
}

type jsoncPaste struct {
	Enable           *bool   `json:"enable"`
	Shortcut         *string `json:"shortcut"`
	RestoreClipboard *bool   `json:"restore_clipboard"`
}

type jsoncIndicator struct {
	Enable            *bool   `json:"enable"`
	Backend           *string `json:"backend"`
	DesktopAppName    *string `json:"desktop_app_name"`
	SoundEnable       *bool   `json:"sound_enable"`
	SoundStartFile    *string `json:"sound_start_file"`
	SoundStopFile     *string `json:"sound_stop_file"`
	SoundCompleteFile *string `json:"sound_complete_file"`
	SoundCancelFile   *string `json:"sound_cancel_file"`
	TextRecording     *string `json:"text_recording"`
	TextProcessing    *string `json:"text_processing"`
	TextError         *string `json:"text_error"`
	ErrorTimeoutMS    *int    `json:"error_timeout_ms"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	setString(&cfg.DataDir, payload.DataDir)

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
	}

	if t := payload.Transcriber; t != nil {
		setString(&cfg.Transcriber.Endpoint, t.Endpoint)
		setString(&cfg.Transcriber.Language, t.Language)
		setString(&cfg.Transcriber.Model, t.Model)
		setString(&cfg.Transcriber.Prompt, t.Prompt)
		setInt(&cfg.Transcriber.TimeoutMS, t.TimeoutMS)
		setString(&cfg.Transcriber.GRPCHealth, t.GRPCHealth)
	}

	if e := payload.AIEditor; e != nil {
		setBool(&cfg.AIEditor.Enable, e.Enable)
		setString(&cfg.AIEditor.Preset, e.Preset)
		setString(&cfg.AIEditor.Model, e.Model)
		setString(&cfg.AIEditor.BaseURL, e.BaseURL)
		setString(&cfg.AIEditor.APIKeyEnv, e.APIKeyEnv)
		setInt(&cfg.AIEditor.TimeoutMS, e.TimeoutMS)
	}

	if d := payload.Dictionary; d != nil {
		setBool(&cfg.Dictionary.Enable, d.Enable)
		setBool(&cfg.Dictionary.AutoLearn, d.AutoLearn)
		setString(&cfg.Dictionary.Path, d.Path)
	}

	if s := payload.Snippets; s != nil {
		setBool(&cfg.Snippets.Enable, s.Enable)
		setString(&cfg.Snippets.Path, s.Path)
	}

	if v := payload.VoiceCommands; v != nil {
		setBool(&cfg.VoiceCommands.Enable, v.Enable)
	}

	if a := payload.AppContext; a != nil {
		setBool(&cfg.AppContext.Enable, a.Enable)
		if a.Presets != nil {
			presets := make(map[string]string, len(a.Presets))
			for class, preset := range a.Presets {
				class = strings.TrimSpace(class)
				if class == "" {
					return nil, fmt.Errorf("app_context.presets contains an empty window class")
				}
				presets[class] = strings.TrimSpace(preset)
			}
			cfg.AppContext.Presets = presets
		}
	}

	if q := payload.Queue; q != nil {
		setInt(&cfg.Queue.RetryIntervalS, q.RetryIntervalS)
		setInt(&cfg.Queue.MaxAgeDays, q.MaxAgeDays)
	}

	if h := payload.History; h != nil {
		setString(&cfg.History.Path, h.Path)
	}

	if p := payload.Paste; p != nil {
		setBool(&cfg.Paste.Enable, p.Enable)
		setString(&cfg.Paste.Shortcut, p.Shortcut)
		setBool(&cfg.Paste.RestoreClipboard, p.RestoreClipboard)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile)
		setString(&cfg.Indicator.SoundCompleteFile, i.SoundCompleteFile)
		setString(&cfg.Indicator.SoundCancelFile, i.SoundCancelFile)
		setString(&cfg.Indicator.TextRecording, i.TextRecording)
		setString(&cfg.Indicator.TextProcessing, i.TextProcessing)
		setString(&cfg.Indicator.TextError, i.TextError)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if payload.ClipboardCmd != nil {
		raw := *payload.ClipboardCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid clipboard_cmd: %w", err)
		}
		cfg.Clipboard = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.PasteCmd != nil {
		raw := *payload.PasteCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid paste_cmd: %w", err)
		}
		cfg.PasteCmd = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.Debug != nil {
		setBool(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
