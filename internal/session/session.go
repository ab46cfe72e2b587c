// Package session owns the interactive dictation lifecycle: capture, durable
// save, and the hand-off of each recording to a pipeline worker.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/dictum/internal/appcontext"
	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/fsm"
	"github.com/rbright/dictum/internal/ipc"
	"github.com/rbright/dictum/internal/logging"
	"github.com/rbright/dictum/internal/pipeline"
	"github.com/rbright/dictum/internal/queue"
)

// ErrEmptyAudio reports a capture that produced no samples.
var ErrEmptyAudio = errors.New("no audio captured")

const (
	markAttempts = 3
	markBackoff  = 50 * time.Millisecond
)

// Recorder is the capture collaborator.
type Recorder interface {
	Start(context.Context) error
	// Stop returns the captured WAV payload, or nil when nothing was heard.
	Stop(context.Context) ([]byte, error)
}

// ContextSource snapshots the foreground application.
type ContextSource interface {
	Current(context.Context) appcontext.Info
}

// Store is the durable queue subset used for live recordings.
type Store interface {
	SaveHeld(audio []byte, origin queue.Origin) (queue.Recording, error)
	Release(id string)
	MarkCompleted(id string) error
}

// Processor runs one live recording through the pipeline.
type Processor interface {
	Run(context.Context, pipeline.Job) pipeline.Result
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowRecording(context.Context)
	ShowProcessing(context.Context)
	ShowError(context.Context, string)
	Complete(context.Context)
	Cancel(context.Context)
	Hide(context.Context)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowRecording(context.Context)     {}
func (noopIndicator) ShowProcessing(context.Context)    {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) Complete(context.Context)          {}
func (noopIndicator) Cancel(context.Context)            {}
func (noopIndicator) Hide(context.Context)              {}

// Deps are the collaborators of a Controller. Context may be nil, in which
// case recordings carry no application metadata.
type Deps struct {
	Recorder  Recorder
	Context   ContextSource
	Store     Store
	Processor Processor
	Indicator Indicator
	Logger    *slog.Logger
}

// Controller drives Idle -> Recording -> Processing -> Idle.
type Controller struct {
	logger    *slog.Logger
	recorder  Recorder
	apps      ContextSource
	store     Store
	processor Processor
	indicator Indicator

	// ops serializes activate/deactivate so capture start and stop never overlap.
	ops sync.Mutex

	mu     sync.RWMutex
	state  fsm.State
	origin appcontext.Info

	workers sync.WaitGroup
}

// NewController constructs a session controller.
func NewController(deps Deps) *Controller {
	indicator := deps.Indicator
	if indicator == nil {
		indicator = noopIndicator{}
	}
	return &Controller{
		logger:    logging.OrDiscard(deps.Logger),
		recorder:  deps.Recorder,
		apps:      deps.Context,
		store:     deps.Store,
		processor: deps.Processor,
		indicator: indicator,
		state:     fsm.StateIdle,
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Activate starts capture. It reports false when the controller was not idle.
func (c *Controller) Activate(ctx context.Context) (bool, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	if c.State() != fsm.StateIdle {
		return false, nil
	}

	var info appcontext.Info
	if c.apps != nil {
		info = c.apps.Current(ctx)
	}

	if err := c.recorder.Start(ctx); err != nil {
		c.indicator.ShowError(ctx, "Unable to start recording")
		return false, fmt.Errorf("start capture: %w", err)
	}

	c.mu.Lock()
	c.origin = info
	c.mu.Unlock()
	if err := c.transition(fsm.EventActivate); err != nil {
		return false, err
	}

	c.indicator.ShowRecording(ctx)
	c.logger.Info("recording started", "app_name", info.Name, "preset", info.Preset)
	return true, nil
}

// Deactivate stops capture, saves the audio durably, and starts a pipeline
// worker. It reports false when the controller was not recording. Errors
// are limited to capture and durability failures; pipeline failures are
// logged and leave the recording queued.
func (c *Controller) Deactivate(ctx context.Context) (bool, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	if c.State() != fsm.StateRecording {
		return false, nil
	}

	wav, err := c.recorder.Stop(ctx)
	if err != nil || len(wav) == 0 {
		_ = c.transition(fsm.EventCancel)
		c.indicator.Cancel(ctx)
		if err != nil {
			c.logger.Error("stop capture failed", "error", err.Error())
			return true, fmt.Errorf("stop capture: %w", err)
		}
		c.logger.Info("recording discarded", "reason", ErrEmptyAudio.Error())
		return true, ErrEmptyAudio
	}

	if err := c.transition(fsm.EventDeactivate); err != nil {
		return true, err
	}
	c.indicator.ShowProcessing(ctx)

	c.mu.RLock()
	info := c.origin
	c.mu.RUnlock()

	rec, err := c.store.SaveHeld(wav, info.Origin())
	if err != nil {
		c.indicator.ShowError(ctx, "Unable to save recording")
		_ = c.transition(fsm.EventFinish)
		c.logger.Error("save recording failed", "error", err.Error())
		return true, err
	}

	c.workers.Add(1)
	go c.process(context.WithoutCancel(ctx), rec, wav)
	return true, nil
}

// Toggle activates when idle and deactivates when recording.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	switch c.State() {
	case fsm.StateIdle:
		return c.Activate(ctx)
	case fsm.StateRecording:
		return c.Deactivate(ctx)
	default:
		return false, nil
	}
}

// Wait blocks until in-flight pipeline workers finish.
func (c *Controller) Wait() {
	c.workers.Wait()
}

// process runs the pipeline for one saved recording and always returns the
// controller to idle.
func (c *Controller) process(ctx context.Context, rec queue.Recording, wav []byte) {
	defer c.workers.Done()
	defer func() {
		if err := c.transition(fsm.EventFinish); err != nil {
			c.logger.Error("finish transition failed", "error", err.Error())
		}
	}()
	defer c.store.Release(rec.ID)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("pipeline panic", "recording_id", rec.ID, "panic", fmt.Sprint(r))
			c.indicator.ShowError(ctx, "Dictation failed")
		}
	}()

	duration, err := audio.WAVDuration(wav)
	if err != nil {
		c.logger.Debug("wav duration unavailable", "recording_id", rec.ID, "error", err.Error())
	}

	started := time.Now()
	result := c.processor.Run(ctx, pipeline.Job{
		Recording:       rec,
		Audio:           wav,
		DurationSeconds: duration,
	})

	attrs := []any{
		"recording_id", rec.ID,
		"stage", result.Stage,
		"outcome", result.Outcome.String(),
		"duration_ms", time.Since(started).Milliseconds(),
		"app_name", rec.AppName,
		"preset", rec.Preset,
	}
	if result.Err != nil {
		attrs = append(attrs, "error", result.Err.Error())
	}

	switch {
	case result.Completed():
		if err := c.markCompleted(rec.ID); err != nil {
			// The text already reached the user and history; a sweep will replay it.
			c.logger.Error("mark completed failed; recording will be replayed", append(attrs, "mark_error", err.Error())...)
		}
		c.logger.Info("pipeline completed", attrs...)
		c.indicator.Complete(ctx)
	case result.Outcome == pipeline.AbortDiscard:
		c.logger.Info("pipeline discarded", attrs...)
		c.indicator.Hide(ctx)
	case errors.Is(result.Err, pipeline.ErrEmptyTranscript):
		c.logger.Info("pipeline kept recording for retry", attrs...)
		c.indicator.ShowError(ctx, "No speech detected")
	default:
		c.logger.Warn("pipeline kept recording for retry", attrs...)
		c.indicator.ShowError(ctx, "Saved for retry")
	}
}

// markCompleted retries briefly, since a leftover recording is replayed and
// recorded in history a second time.
func (c *Controller) markCompleted(id string) error {
	var err error
	for attempt := 1; attempt <= markAttempts; attempt++ {
		if err = c.store.MarkCompleted(id); err == nil {
			return nil
		}
		if attempt < markAttempts {
			time.Sleep(time.Duration(attempt) * markBackoff)
		}
	}
	return err
}

// Handle serves lifecycle IPC commands.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: string(c.State()), Message: "status"}
	case ipc.CommandToggle:
		return c.respond(c.Toggle(ctx))
	case ipc.CommandActivate:
		return c.respond(c.Activate(ctx))
	case ipc.CommandDeactivate:
		return c.respond(c.Deactivate(ctx))
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) respond(changed bool, err error) ipc.Response {
	state := string(c.State())
	switch {
	case errors.Is(err, ErrEmptyAudio):
		return ipc.Response{OK: true, State: state, Message: "no audio captured"}
	case err != nil:
		return ipc.Response{OK: false, State: state, Error: err.Error()}
	case !changed:
		return ipc.Response{OK: true, State: state, Message: "ignored"}
	default:
		return ipc.Response{OK: true, State: state, Message: "ok"}
	}
}
