package appcontext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbright/dictum/internal/hypr"
	"github.com/stretchr/testify/require"
)

func TestPresetForUsesMappingCaseInsensitively(t *testing.T) {
	r := NewResolver(map[string]string{"Thunderbird": "email", "kitty": "code"}, "", nil)

	require.Equal(t, "email", r.PresetFor("thunderbird"))
	require.Equal(t, "code", r.PresetFor(" KITTY "))
	require.Equal(t, "default", r.PresetFor("firefox"))
	require.Equal(t, "default", r.PresetFor(""))
}

func TestPresetForClassifiesUnmappedApps(t *testing.T) {
	r := NewResolver(map[string]string{"code": "notes"}, "default", nil)

	require.Equal(t, "email", r.PresetFor("geary"))
	require.Equal(t, "code", r.PresetFor("zed"))
	require.Equal(t, "notes", r.PresetFor("code"))
	require.Equal(t, "default", r.PresetFor("kitty"))
}

func TestCurrentFallsBackToInitialClassMapping(t *testing.T) {
	r := NewResolver(map[string]string{"org.mozilla.thunderbird": "email"}, "notes", nil)
	r.query = func(context.Context) (hypr.ActiveWindow, error) {
		return hypr.ActiveWindow{Address: "0x1", Class: "thunderbird", InitialClass: "org.mozilla.thunderbird", Title: "Inbox"}, nil
	}

	info := r.Current(context.Background())
	require.Equal(t, Info{BundleID: "org.mozilla.thunderbird", Name: "Inbox", Preset: "email"}, info)
	require.Equal(t, "org.mozilla.thunderbird", info.Origin().AppBundleID)
	require.Equal(t, "email", info.Origin().Preset)
}

func TestCurrentQueryFailureYieldsDefaultPreset(t *testing.T) {
	r := NewResolver(nil, "commit", nil)
	r.query = func(context.Context) (hypr.ActiveWindow, error) {
		return hypr.ActiveWindow{}, errors.New("no compositor")
	}

	require.Equal(t, Info{Preset: "commit"}, r.Current(context.Background()))
}

func TestCurrentUsesHyprctl(t *testing.T) {
	dir := t.TempDir()
	script := "#!/usr/bin/env bash\necho '{\"address\":\"0xabc\",\"class\":\"kitty\",\"initialClass\":\"kitty\",\"title\":\"\"}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hyprctl"), []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	r := NewResolver(map[string]string{"kitty": "code"}, "default", nil)
	require.Equal(t, Info{BundleID: "kitty", Name: "kitty", Preset: "code"}, r.Current(context.Background()))
}

func TestClassifications(t *testing.T) {
	require.True(t, IsCodeEditor("Code"))
	require.True(t, IsCodeEditor("dev.zed.Zed"))
	require.False(t, IsCodeEditor("kitty"))

	require.True(t, IsTerminal("kitty"))
	require.True(t, IsTerminal("com.mitchellh.ghostty"))
	require.False(t, IsTerminal(""))

	require.True(t, IsEmailClient("thunderbird"))
	require.False(t, IsEmailClient("firefox"))
}
