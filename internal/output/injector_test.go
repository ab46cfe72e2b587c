package output

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/hypr"
	"github.com/stretchr/testify/require"
)

type fakeClipboard struct {
	mu       sync.Mutex
	content  string
	writes   []string
	readErr  error
	writeErr error
}

func (f *fakeClipboard) Read(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, f.readErr
}

func (f *fakeClipboard) Write(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.content = text
	f.writes = append(f.writes, text)
	return nil
}

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (k *keyRecorder) send(_ context.Context, mods, key, address string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.keys = append(k.keys, mods+","+key+","+address)
	return nil
}

func newTestInjector(cfg config.Config, clip *fakeClipboard, keys *keyRecorder, window hypr.ActiveWindow) *Injector {
	inj := NewInjector(cfg, nil)
	inj.clipboard = clip
	inj.sendKey = keys.send
	inj.queryWindow = func(context.Context) (hypr.ActiveWindow, error) { return window, nil }
	inj.restoreDelay = time.Millisecond
	return inj
}

func TestTypeTextPastesAndRestoresClipboard(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	keys := &keyRecorder{}
	inj := newTestInjector(config.Default(), clip, keys, hypr.ActiveWindow{Address: "0xabc", Class: "firefox"})

	require.NoError(t, inj.TypeText(context.Background(), "hello world"))
	require.Equal(t, []string{"hello world", "previous"}, clip.writes)
	require.Equal(t, []string{"CTRL,V,0xabc"}, keys.keys)
}

func TestTypeTextUsesTerminalPasteShortcut(t *testing.T) {
	cfg := config.Default()
	cfg.Paste.RestoreClipboard = false
	clip := &fakeClipboard{}
	keys := &keyRecorder{}
	inj := newTestInjector(cfg, clip, keys, hypr.ActiveWindow{Address: "0x1", Class: "kitty"})

	require.NoError(t, inj.TypeText(context.Background(), "ls"))
	require.Equal(t, []string{"ls"}, clip.writes)
	require.Equal(t, []string{"CTRL SHIFT,V,0x1"}, keys.keys)
}

func TestTypeTextClipboardOnlyWhenPasteDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Paste.Enable = false
	clip := &fakeClipboard{content: "previous"}
	keys := &keyRecorder{}
	inj := newTestInjector(cfg, clip, keys, hypr.ActiveWindow{Address: "0x1"})

	require.NoError(t, inj.TypeText(context.Background(), "kept"))
	require.Equal(t, []string{"kept"}, clip.writes)
	require.Empty(t, keys.keys)
}

func TestTypeTextSkipsEmptyText(t *testing.T) {
	clip := &fakeClipboard{}
	keys := &keyRecorder{}
	inj := newTestInjector(config.Default(), clip, keys, hypr.ActiveWindow{Address: "0x1"})

	require.NoError(t, inj.TypeText(context.Background(), ""))
	require.Empty(t, clip.writes)
	require.Empty(t, keys.keys)
}

func TestTypeTextClipboardFailureIsReturned(t *testing.T) {
	clip := &fakeClipboard{writeErr: errors.New("no display")}
	inj := newTestInjector(config.Default(), clip, &keyRecorder{}, hypr.ActiveWindow{Address: "0x1"})

	err := inj.TypeText(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "set clipboard")
}

func TestTypeTextPasteFailureKeepsClipboard(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	keys := &keyRecorder{err: errors.New("sendshortcut failed")}
	inj := newTestInjector(config.Default(), clip, keys, hypr.ActiveWindow{Address: "0x1"})

	require.NoError(t, inj.TypeText(context.Background(), "dictated"))
	require.Equal(t, []string{"dictated"}, clip.writes)
	require.Equal(t, "dictated", clip.content)
}

func TestTypeTextRunsPasteCommand(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	marker := filepath.Join(t.TempDir(), "pasted.txt")

	cfg := config.Default()
	cfg.Paste.RestoreClipboard = false
	cfg.PasteCmd = config.CommandConfig{Argv: []string{scriptPath, marker}}
	clip := &fakeClipboard{}
	keys := &keyRecorder{}
	inj := newTestInjector(cfg, clip, keys, hypr.ActiveWindow{Address: "0x1"})

	require.NoError(t, inj.TypeText(context.Background(), "via command"))
	_, err := os.Stat(marker)
	require.NoError(t, err)
	require.Empty(t, keys.keys)
}

func TestKeyActionsTargetActiveWindow(t *testing.T) {
	keys := &keyRecorder{}
	inj := newTestInjector(config.Default(), &fakeClipboard{}, keys, hypr.ActiveWindow{Address: "0xw", Class: "code"})
	ctx := context.Background()

	require.NoError(t, inj.DeleteChars(ctx, 2))
	require.NoError(t, inj.DeleteWords(ctx, 1))
	require.NoError(t, inj.DeleteChars(ctx, 0))
	require.NoError(t, inj.Undo(ctx))
	require.NoError(t, inj.PressEnter(ctx))
	require.NoError(t, inj.PressTab(ctx))
	require.NoError(t, inj.SelectAll(ctx))
	require.NoError(t, inj.Copy(ctx))
	require.NoError(t, inj.Cut(ctx))
	require.NoError(t, inj.Paste(ctx))

	require.Equal(t, []string{
		",BackSpace,0xw",
		",BackSpace,0xw",
		"CTRL,BackSpace,0xw",
		"CTRL,Z,0xw",
		",Return,0xw",
		",Tab,0xw",
		"CTRL,A,0xw",
		"CTRL,C,0xw",
		"CTRL,X,0xw",
		"CTRL,V,0xw",
	}, keys.keys)
}

func TestActiveWindowWithRetryHonorsContextCancel(t *testing.T) {
	inj := NewInjector(config.Default(), nil)
	inj.queryWindow = func(context.Context) (hypr.ActiveWindow, error) {
		return hypr.ActiveWindow{}, errors.New("not yet")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inj.activeWindowWithRetry(ctx, 3, 10*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSplitShortcut(t *testing.T) {
	mods, key, err := splitShortcut(" SUPER , V ")
	require.NoError(t, err)
	require.Equal(t, "SUPER", mods)
	require.Equal(t, "V", key)

	_, _, err = splitShortcut("CTRL")
	require.Error(t, err)
}

func TestRunCommandWithInputWritesStdin(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	outputPath := filepath.Join(t.TempDir(), "stdin.txt")

	err := runCommandWithInput(context.Background(), []string{scriptPath, outputPath}, "hello from dictum")
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "hello from dictum", string(data))
}

func TestRunCommandWithInputRejectsEmptyArgv(t *testing.T) {
	err := runCommandWithInput(context.Background(), nil, "payload")
	require.Error(t, err)
	require.Contains(t, err.Error(), "argv cannot be empty")
}

func TestCommandClipboardWritesThroughArgv(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	clipboardPath := filepath.Join(t.TempDir(), "clipboard.txt")

	cfg := config.Default()
	cfg.Paste.Enable = false
	cfg.Clipboard = config.CommandConfig{Argv: []string{scriptPath, clipboardPath}}

	inj := NewInjector(cfg, nil)
	require.NoError(t, inj.TypeText(context.Background(), "captured transcript"))

	data, err := os.ReadFile(clipboardPath)
	require.NoError(t, err)
	require.Equal(t, "captured transcript", string(data))
}

func writeStdinCaptureScript(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "capture-stdin.sh")
	script := `#!/usr/bin/env bash
set -euo pipefail
cat > "$1"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
