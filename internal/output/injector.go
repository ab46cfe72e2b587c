package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/dictum/internal/appcontext"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/hypr"
)

const (
	clipboardTimeout = 2 * time.Second
	keyTimeout       = 1200 * time.Millisecond
	restoreDelay     = 250 * time.Millisecond
)

// Injector types text via clipboard + paste and sends editing keys through hyprctl.
type Injector struct {
	config    config.Config
	logger    *slog.Logger
	clipboard clipboardBackend

	queryWindow  func(context.Context) (hypr.ActiveWindow, error)
	sendKey      func(ctx context.Context, mods, key, address string) error
	restoreDelay time.Duration
}

// NewInjector constructs an injector from runtime config.
func NewInjector(cfg config.Config, logger *slog.Logger) *Injector {
	var backend clipboardBackend = systemClipboard{}
	if len(cfg.Clipboard.Argv) > 0 {
		backend = commandClipboard{argv: cfg.Clipboard.Argv, fallback: backend}
	}
	return &Injector{
		config:       cfg,
		logger:       logger,
		clipboard:    backend,
		queryWindow:  hypr.QueryActiveWindow,
		sendKey:      hypr.SendKey,
		restoreDelay: restoreDelay,
	}
}

// TypeText places text on the clipboard and pastes it into the focused window.
//
// A paste failure leaves text on the clipboard and is only logged.
func (i *Injector) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	var (
		previous    string
		canRestore  bool
		restoreText = i.config.Paste.Enable && i.config.Paste.RestoreClipboard
	)
	if restoreText {
		readCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
		prior, err := i.clipboard.Read(readCtx)
		cancel()
		if err == nil {
			previous, canRestore = prior, true
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := i.clipboard.Write(writeCtx, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}

	if !i.config.Paste.Enable {
		return nil
	}

	if err := i.paste(ctx); err != nil {
		i.logPasteFailure(err)
		return nil
	}

	if canRestore && previous != text {
		i.restore(ctx, previous)
	}
	return nil
}

// paste runs paste_cmd when configured, else the paste shortcut against the active window.
func (i *Injector) paste(ctx context.Context) error {
	if len(i.config.PasteCmd.Argv) > 0 {
		pasteCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
		defer cancel()
		return runCommandWithInput(pasteCtx, i.config.PasteCmd.Argv, "")
	}

	pasteCtx, cancel := context.WithTimeout(ctx, keyTimeout)
	defer cancel()
	window, err := i.activeWindowWithRetry(pasteCtx, 5, 10*time.Millisecond)
	if err != nil {
		return err
	}
	mods, key, err := splitShortcut(pasteShortcut(i.config.Paste.Shortcut, window))
	if err != nil {
		return err
	}
	return i.sendKey(pasteCtx, mods, key, window.Address)
}

// restore puts the previous clipboard contents back once the target had time to read the paste.
func (i *Injector) restore(ctx context.Context, previous string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(i.restoreDelay):
	}
	restoreCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := i.clipboard.Write(restoreCtx, previous); err != nil && i.logger != nil {
		i.logger.Warn("restore clipboard failed", "error", err.Error())
	}
}

// DeleteChars sends n BackSpace presses.
func (i *Injector) DeleteChars(ctx context.Context, n int) error {
	return i.repeat(ctx, n, "", "BackSpace")
}

// DeleteWords sends n word-wise deletions.
func (i *Injector) DeleteWords(ctx context.Context, n int) error {
	return i.repeat(ctx, n, "CTRL", "BackSpace")
}

func (i *Injector) Undo(ctx context.Context) error       { return i.key(ctx, "CTRL", "Z") }
func (i *Injector) PressEnter(ctx context.Context) error { return i.key(ctx, "", "Return") }
func (i *Injector) PressTab(ctx context.Context) error   { return i.key(ctx, "", "Tab") }
func (i *Injector) SelectAll(ctx context.Context) error  { return i.key(ctx, "CTRL", "A") }
func (i *Injector) Copy(ctx context.Context) error       { return i.key(ctx, "CTRL", "C") }
func (i *Injector) Cut(ctx context.Context) error        { return i.key(ctx, "CTRL", "X") }

// Paste sends the paste shortcut, adjusted for terminals.
func (i *Injector) Paste(ctx context.Context) error {
	return i.withWindow(ctx, func(ctx context.Context, window hypr.ActiveWindow) error {
		mods, key, err := splitShortcut(pasteShortcut(i.config.Paste.Shortcut, window))
		if err != nil {
			return err
		}
		return i.sendKey(ctx, mods, key, window.Address)
	})
}

func (i *Injector) key(ctx context.Context, mods string, key string) error {
	return i.repeat(ctx, 1, mods, key)
}

func (i *Injector) repeat(ctx context.Context, n int, mods string, key string) error {
	if n <= 0 {
		return nil
	}
	return i.withWindow(ctx, func(ctx context.Context, window hypr.ActiveWindow) error {
		for j := 0; j < n; j++ {
			if err := i.sendKey(ctx, mods, key, window.Address); err != nil {
				return fmt.Errorf("send %s: %w", strings.TrimPrefix(mods+"+"+key, "+"), err)
			}
		}
		return nil
	})
}

func (i *Injector) withWindow(ctx context.Context, fn func(context.Context, hypr.ActiveWindow) error) error {
	keyCtx, cancel := context.WithTimeout(ctx, keyTimeout)
	defer cancel()
	window, err := i.activeWindowWithRetry(keyCtx, 5, 10*time.Millisecond)
	if err != nil {
		return err
	}
	return fn(keyCtx, window)
}

func (i *Injector) activeWindowWithRetry(ctx context.Context, attempts int, delay time.Duration) (hypr.ActiveWindow, error) {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for n := 0; n < attempts; n++ {
		window, err := i.queryWindow(ctx)
		if err == nil {
			return window, nil
		}
		lastErr = err
		if n == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return hypr.ActiveWindow{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return hypr.ActiveWindow{}, fmt.Errorf("resolve active window: %w", lastErr)
}

// pasteShortcut swaps the default CTRL,V for CTRL SHIFT,V in terminal emulators.
func pasteShortcut(shortcut string, window hypr.ActiveWindow) string {
	shortcut = strings.TrimSpace(shortcut)
	if strings.EqualFold(strings.ReplaceAll(shortcut, " ", ""), "CTRL,V") &&
		(appcontext.IsTerminal(window.Class) || appcontext.IsTerminal(window.InitialClass)) {
		return "CTRL SHIFT,V"
	}
	return shortcut
}

// splitShortcut parses a "MODS,KEY" payload.
func splitShortcut(shortcut string) (string, string, error) {
	mods, key, ok := strings.Cut(strings.TrimSpace(shortcut), ",")
	if !ok || strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("paste shortcut %q must look like MODS,KEY", shortcut)
	}
	return strings.TrimSpace(mods), strings.TrimSpace(key), nil
}

// logPasteFailure records paste errors while preserving clipboard success semantics.
func (i *Injector) logPasteFailure(err error) {
	if i.logger == nil || err == nil {
		return
	}
	i.logger.Error("paste dispatch failed; clipboard remains set", "error", err.Error())
}
