// Package appcontext resolves the foreground application and its editor preset.
package appcontext

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rbright/dictum/internal/hypr"
	"github.com/rbright/dictum/internal/queue"
)

// Info describes the foreground application at recording time.
type Info struct {
	BundleID string
	Name     string
	Preset   string
}

// Origin converts Info into queue metadata.
func (i Info) Origin() queue.Origin {
	return queue.Origin{AppBundleID: i.BundleID, AppName: i.Name, Preset: i.Preset}
}

var (
	codeEditors = classSet(
		"code", "code-oss", "code-insiders", "vscodium", "dev.zed.zed", "zed",
		"sublime_text", "jetbrains-idea", "jetbrains-pycharm", "jetbrains-goland",
		"cursor", "windsurf", "neovide",
	)
	terminals = classSet(
		"kitty", "alacritty", "foot", "footclient", "org.wezfurlong.wezterm",
		"com.mitchellh.ghostty", "ghostty", "warp", "dev.warp.warp", "hyper",
	)
	emailClients = classSet(
		"thunderbird", "org.mozilla.thunderbird", "evolution", "org.gnome.evolution",
		"geary", "org.gnome.geary", "betterbird",
	)
)

func classSet(classes ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		out[c] = struct{}{}
	}
	return out
}

func inSet(set map[string]struct{}, class string) bool {
	_, ok := set[strings.ToLower(strings.TrimSpace(class))]
	return ok
}

// IsCodeEditor reports whether class names a known code editor.
func IsCodeEditor(class string) bool { return inSet(codeEditors, class) }

// IsTerminal reports whether class names a known terminal emulator.
func IsTerminal(class string) bool { return inSet(terminals, class) }

// IsEmailClient reports whether class names a known mail client.
func IsEmailClient(class string) bool { return inSet(emailClients, class) }

// Resolver maps the active Hyprland window to Info.
type Resolver struct {
	presets       map[string]string
	defaultPreset string
	logger        *slog.Logger
	query         func(context.Context) (hypr.ActiveWindow, error)
}

// NewResolver builds a resolver from a class->preset map.
func NewResolver(presets map[string]string, defaultPreset string, logger *slog.Logger) *Resolver {
	normalized := make(map[string]string, len(presets))
	for class, preset := range presets {
		normalized[strings.ToLower(strings.TrimSpace(class))] = preset
	}
	if defaultPreset == "" {
		defaultPreset = "default"
	}
	return &Resolver{
		presets:       normalized,
		defaultPreset: defaultPreset,
		logger:        logger,
		query:         hypr.QueryActiveWindow,
	}
}

// PresetFor returns the configured preset for class.
//
// Unmapped mail clients and code editors get the email and code presets; anything else gets the default.
func (r *Resolver) PresetFor(class string) string {
	if preset, ok := r.presets[strings.ToLower(strings.TrimSpace(class))]; ok && preset != "" {
		return preset
	}
	switch {
	case IsEmailClient(class):
		return "email"
	case IsCodeEditor(class):
		return "code"
	default:
		return r.defaultPreset
	}
}

// Current snapshots the foreground window.
//
// A failed query is not fatal to dictation: it yields an Info carrying only the default preset.
func (r *Resolver) Current(ctx context.Context) Info {
	window, err := r.query(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.Debug("active window query failed", "error", err.Error())
		}
		return Info{Preset: r.defaultPreset}
	}

	preset := r.PresetFor(window.Class)
	if preset == r.defaultPreset && window.InitialClass != "" {
		preset = r.PresetFor(window.InitialClass)
	}
	name := window.Title
	if name == "" {
		name = window.Class
	}
	return Info{BundleID: window.AppID(), Name: name, Preset: preset}
}
