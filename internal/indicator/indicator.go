// Package indicator shows dictation state notifications and plays audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/hypr"
)

const (
	defaultRecordingText  = "Recording…"
	defaultProcessingText = "Transcribing…"
	defaultErrorText      = "Dictation failed"
)

// Notifier is the concrete indicator used by the daemon.
// It routes notifications via Hyprland or desktop DBus based on config backend.
type Notifier struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
	play                  func(cueKind) error
}

// New creates a notifier from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	n := &Notifier{cfg: cfg, logger: logger}
	n.play = func(kind cueKind) error { return emitCue(kind, cfg) }
	return n
}

// ShowRecording signals recording start and emits the start cue.
func (n *Notifier) ShowRecording(ctx context.Context) {
	n.playCue(cueStart)
	n.show(ctx, 1, 300000, "rgb(89b4fa)", textOr(n.cfg.TextRecording, defaultRecordingText))
}

// ShowProcessing signals the post-capture pipeline state and emits the stop cue.
func (n *Notifier) ShowProcessing(ctx context.Context) {
	n.playCue(cueStop)
	n.show(ctx, 1, 300000, "rgb(cba6f7)", textOr(n.cfg.TextProcessing, defaultProcessingText))
}

// ShowError displays an error-state message.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.show(ctx, 3, timeout, "rgb(f38ba8)", textOr(text, textOr(n.cfg.TextError, defaultErrorText)))
}

// Complete dismisses the indicator and emits the completion cue.
func (n *Notifier) Complete(ctx context.Context) {
	n.playCue(cueComplete)
	n.Hide(ctx)
}

// Cancel dismisses the indicator and emits the cancel cue.
func (n *Notifier) Cancel(ctx context.Context) {
	n.playCue(cueCancel)
	n.Hide(ctx)
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

func (n *Notifier) show(ctx context.Context, icon int, timeoutMS int, color string, text string) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, icon, timeoutMS, color, text)
	})
}

func textOr(text string, fallback string) string {
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

// notify dispatches indicator output through the configured backend.
func (n *Notifier) notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if n.desktopBackend() {
		return n.notifyDesktop(ctx, timeoutMS, text)
	}
	return hypr.Notify(ctx, icon, timeoutMS, color, text)
}

// dismiss removes indicator output from the configured backend.
func (n *Notifier) dismiss(ctx context.Context) error {
	if n.desktopBackend() {
		n.mu.Lock()
		id := n.desktopNotificationID
		n.desktopNotificationID = 0
		n.mu.Unlock()
		if id == 0 {
			return nil
		}
		return desktopDismiss(ctx, id)
	}
	return hypr.DismissNotify(ctx)
}

func (n *Notifier) desktopBackend() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "dictum"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := n.play(kind); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
