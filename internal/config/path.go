package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "dictum", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "dictum", "config.jsonc"), nil
}

// ResolveDataDir returns the configured data_dir, else the XDG data home for dictum.
func (c Config) ResolveDataDir() (string, error) {
	if dir := ExpandUserPath(c.DataDir); dir != "" {
		return dir, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "dictum"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for data dir fallback")
	}
	return filepath.Join(home, ".local", "share", "dictum"), nil
}

// Paths holds the on-disk locations derived from a Config.
type Paths struct {
	DataDir    string
	QueueDir   string
	HistoryDB  string
	Dictionary string
	Snippets   string
	DebugAudio string
}

// ResolvePaths derives every storage location, honoring per-section overrides.
func (c Config) ResolvePaths() (Paths, error) {
	dataDir, err := c.ResolveDataDir()
	if err != nil {
		return Paths{}, err
	}
	p := Paths{
		DataDir:    dataDir,
		QueueDir:   filepath.Join(dataDir, "queue"),
		HistoryDB:  filepath.Join(dataDir, "history.db"),
		Dictionary: filepath.Join(dataDir, "dictionary.json"),
		Snippets:   filepath.Join(dataDir, "snippets.json"),
	}
	if path := ExpandUserPath(c.History.Path); path != "" {
		p.HistoryDB = path
	}
	if path := ExpandUserPath(c.Dictionary.Path); path != "" {
		p.Dictionary = path
	}
	if path := ExpandUserPath(c.Snippets.Path); path != "" {
		p.Snippets = path
	}
	if c.Debug.EnableAudioDump {
		p.DebugAudio = filepath.Join(dataDir, "debug")
	}
	return p, nil
}

// ExpandUserPath trims raw and expands a leading ~ to the user home.
func ExpandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
}
