package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/dictum/internal/appcontext"
	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/dictionary"
	"github.com/rbright/dictum/internal/editor"
	"github.com/rbright/dictum/internal/history"
	"github.com/rbright/dictum/internal/indicator"
	"github.com/rbright/dictum/internal/ipc"
	"github.com/rbright/dictum/internal/observe"
	"github.com/rbright/dictum/internal/output"
	"github.com/rbright/dictum/internal/pipeline"
	"github.com/rbright/dictum/internal/queue"
	"github.com/rbright/dictum/internal/session"
	"github.com/rbright/dictum/internal/transcribe"
	"github.com/rbright/dictum/internal/voicecmd"
)

const readinessTimeout = 30 * time.Second

// Daemon owns every long-lived component of a running dictum process.
type Daemon struct {
	cfg    config.Config
	paths  config.Paths
	logger *slog.Logger

	queue       *queue.Queue
	history     *history.Store
	corrections *dictionary.Corrections
	snippets    *dictionary.Snippets
	transcriber *transcribe.Client
	runner      *pipeline.Runner
	session     *session.Controller
}

// NewDaemon opens storage and wires the pipeline from cfg.
func NewDaemon(cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, err
	}
	metrics := observe.DefaultMetrics()

	q, err := queue.Open(paths.QueueDir, queue.WithLogger(logger), queue.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(paths.HistoryDB, history.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	corrections, err := dictionary.OpenCorrections(paths.Dictionary)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}
	snippets, err := dictionary.OpenSnippets(paths.Snippets)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	transcriber := transcribe.New(cfg.Transcriber, logger)
	injector := output.NewInjector(cfg, logger)

	deps := pipeline.Deps{
		Transcriber: transcriber,
		Corrections: corrections,
		Snippets:    snippets,
		Commands:    voicecmd.NewProcessor(),
		Injector:    injector,
		History:     hist,
		Logger:      logger,
		Metrics:     metrics,
	}
	aiEdit := cfg.AIEditor.Enable
	if aiEdit {
		ed, err := editor.New(cfg.AIEditor, logger)
		if err != nil {
			logger.Warn("ai editor disabled", "error", err.Error())
			aiEdit = false
		} else {
			deps.Editor = ed
		}
	}

	runner := pipeline.New(pipeline.Options{
		Corrections:   cfg.Dictionary.Enable,
		VoiceCommands: cfg.VoiceCommands.Enable,
		AIEdit:        aiEdit,
		Snippets:      cfg.Snippets.Enable,
		AutoLearn:     cfg.Dictionary.Enable && cfg.Dictionary.AutoLearn,
		DefaultPreset: cfg.AIEditor.Preset,
		SampleRate:    cfg.Audio.SampleRate,
	}, deps)

	sessionDeps := session.Deps{
		Recorder: audio.NewRecorder(audio.RecorderConfig{
			Input:      cfg.Audio.Input,
			Fallback:   cfg.Audio.Fallback,
			SampleRate: cfg.Audio.SampleRate,
			DebugDir:   paths.DebugAudio,
		}, logger),
		Store:     q,
		Processor: runner,
		Indicator: indicator.New(cfg.Indicator, logger),
		Logger:    logger,
	}
	if cfg.AppContext.Enable {
		sessionDeps.Context = appcontext.NewResolver(cfg.AppContext.Presets, cfg.AIEditor.Preset, logger)
	}

	return &Daemon{
		cfg:         cfg,
		paths:       paths,
		logger:      logger,
		queue:       q,
		history:     hist,
		corrections: corrections,
		snippets:    snippets,
		transcriber: transcriber,
		runner:      runner,
		session:     session.NewController(sessionDeps),
	}, nil
}

// Close releases storage handles.
func (d *Daemon) Close() error {
	return d.history.Close()
}

// Run serves IPC, sweeps leftovers from earlier runs, and retries pending
// recordings in the background until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}
	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, d.logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	d.logger.Info("daemon started",
		"socket", socketPath,
		"data_dir", d.paths.DataDir,
		"transcriber", d.transcriber.Endpoint(),
	)

	if removed, err := d.queue.CleanupOld(d.cfg.Queue.MaxAgeDays); err != nil {
		d.logger.Warn("queue cleanup failed", "error", err.Error())
	} else if removed > 0 {
		d.logger.Info("queue cleanup", "removed", removed, "max_age_days", d.cfg.Queue.MaxAgeDays)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ipc.Serve(gctx, listener, d, d.logger)
	})
	g.Go(func() error {
		return d.sweepLoop(gctx)
	})

	err = g.Wait()
	d.session.Wait()
	d.logger.Info("daemon stopped")
	return err
}

// sweepLoop runs the startup catch-up sweep once the transcriber is ready,
// then keeps the background processor running until ctx ends.
func (d *Daemon) sweepLoop(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	err := d.transcriber.WaitReady(readyCtx, time.Second)
	cancel()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		d.logger.Warn("transcriber not ready; sweeping anyway", "error", err.Error())
	}

	completed := d.queue.ProcessPending(ctx, d.runner.Replay, func(done, total int) {
		d.logger.Debug("startup sweep progress", "done", done, "total", total)
	})
	if completed > 0 {
		d.logger.Info("startup sweep", "completed", completed)
	}

	interval := time.Duration(d.cfg.Queue.RetryIntervalS) * time.Second
	bg, err := d.queue.StartBackground(ctx, d.runner.Replay, interval)
	if err != nil {
		return fmt.Errorf("start background processor: %w", err)
	}
	<-ctx.Done()
	bg.Stop()
	return nil
}

// Handle routes queue commands to the queue and lifecycle commands to the session.
func (d *Daemon) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandRetry:
		completed := d.queue.ProcessPending(ctx, d.runner.Replay, nil)
		return ipc.Response{
			OK:      true,
			State:   string(d.session.State()),
			Count:   completed,
			Message: fmt.Sprintf("processed %d pending recording(s)", completed),
		}
	case ipc.CommandReprocess:
		id := strings.TrimSpace(req.ID)
		if id == "" {
			return ipc.Response{OK: false, State: string(d.session.State()), Error: "reprocess requires a recording id"}
		}
		if err := d.queue.Reprocess(ctx, id, d.runner.Replay); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return ipc.Response{OK: false, State: string(d.session.State()), Error: fmt.Sprintf("no pending recording %s", id)}
			}
			return ipc.Response{OK: false, State: string(d.session.State()), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(d.session.State()), Count: 1, Message: fmt.Sprintf("reprocessed %s", id)}
	case ipc.CommandReload:
		if err := d.corrections.Reload(); err != nil {
			return ipc.Response{OK: false, State: string(d.session.State()), Error: err.Error()}
		}
		if err := d.snippets.Reload(); err != nil {
			return ipc.Response{OK: false, State: string(d.session.State()), Error: err.Error()}
		}
		return ipc.Response{OK: true, State: string(d.session.State()), Message: "dictionaries reloaded"}
	default:
		return d.session.Handle(ctx, req)
	}
}
