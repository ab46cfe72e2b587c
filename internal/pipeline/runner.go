package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/dictum/internal/dictionary"
	"github.com/rbright/dictum/internal/history"
	"github.com/rbright/dictum/internal/observe"
	"github.com/rbright/dictum/internal/queue"
	"github.com/rbright/dictum/internal/voicecmd"
)

// Transcriber turns WAV audio into text. Empty text means no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Editor rewrites text according to a named preset.
type Editor interface {
	Edit(ctx context.Context, text string, preset string) (string, error)
}

// Injector types text and performs editing keystrokes in the focused app.
type Injector interface {
	voicecmd.Injector
	TypeText(ctx context.Context, text string) error
}

// HistoryWriter persists completed transcriptions.
type HistoryWriter interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// Options toggles optional stages.
type Options struct {
	Corrections   bool
	VoiceCommands bool
	AIEdit        bool
	Snippets      bool
	AutoLearn     bool
	DefaultPreset string
	// SampleRate is used to estimate replayed recording durations.
	SampleRate int
}

// Deps are the collaborators a Runner calls. Nil optional collaborators
// disable their stage.
type Deps struct {
	Transcriber Transcriber
	Corrections *dictionary.Corrections
	Snippets    *dictionary.Snippets
	Commands    *voicecmd.Processor
	Editor      Editor
	Injector    Injector
	History     HistoryWriter
	Logger      *slog.Logger
	Metrics     *observe.Metrics
}

// Job is one live recording that is already durable in the queue.
type Job struct {
	Recording       queue.Recording
	Audio           []byte
	DurationSeconds float64
}

// Runner executes the processing stages for live and replayed recordings.
type Runner struct {
	opts Options
	deps Deps
}

// New constructs a Runner.
func New(opts Options, deps Deps) *Runner {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if deps.Commands == nil {
		deps.Commands = voicecmd.NewProcessor()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{opts: opts, deps: deps}
}

// Commands exposes the command processor holding last-typed state.
func (r *Runner) Commands() *voicecmd.Processor {
	return r.deps.Commands
}

type stage struct {
	name string
	run  func(ctx context.Context) (Outcome, error)
}

// execution is the mutable state threaded through one execution.
type execution struct {
	rec      queue.Recording
	audio    []byte
	duration float64
	preset   string
	raw      string
	text     string
	command  string
}

// Run processes a live recording: transcribe, correct, detect commands, edit,
// expand, inject, learn, and record.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	st := &execution{
		rec:      job.Recording,
		audio:    job.Audio,
		duration: job.DurationSeconds,
		preset:   r.resolvePreset(job.Recording.Preset),
	}
	return r.execute(ctx, st, []stage{
		{StageTranscribe, st.transcribe(r)},
		{StageCorrect, st.correct(r)},
		{StageCommand, st.detectCommand(r)},
		{StageEdit, st.edit(r)},
		{StageExpand, st.expand(r)},
		{StageInject, st.inject(r)},
		{StageLearn, st.learn(r)},
		{StageRecord, st.record(r)},
	})
}

// Replay processes a queued recording without injecting anything. Voice
// commands are not detected; their words are kept as ordinary text. It
// satisfies queue.ProcessFunc.
func (r *Runner) Replay(ctx context.Context, rec queue.Recording, audio []byte) error {
	st := &execution{
		rec:      rec,
		audio:    audio,
		duration: EstimateDuration(len(audio), r.opts.SampleRate),
		preset:   r.resolvePreset(rec.Preset),
	}
	res := r.execute(ctx, st, []stage{
		{StageTranscribe, st.transcribe(r)},
		{StageCorrect, st.correct(r)},
		{StageEdit, st.edit(r)},
		{StageExpand, st.expand(r)},
		{StageRecord, st.record(r)},
	})
	if res.Completed() {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("replay stopped at %s: %s", res.Stage, res.Outcome)
}

// EstimateDuration returns seconds of mono s16 audio in n bytes.
func EstimateDuration(n int, sampleRate int) float64 {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate*2)
}

func (r *Runner) resolvePreset(preset string) string {
	if p := strings.TrimSpace(preset); p != "" {
		return p
	}
	return r.opts.DefaultPreset
}

func (r *Runner) execute(ctx context.Context, st *execution, stages []stage) Result {
	started := time.Now()
	res := Result{Outcome: Finish}

	for _, s := range stages {
		if s.run == nil {
			continue
		}
		outcome, err := r.runStage(ctx, st, s)
		res.Stage = s.name
		if outcome == Continue {
			continue
		}
		res.Outcome = outcome
		res.Err = err
		break
	}

	res.RawText = st.raw
	res.Text = st.text
	res.Command = st.command

	attrs := []any{
		"recording_id", st.rec.ID,
		"stage", res.Stage,
		"outcome", res.Outcome.String(),
		"duration_ms", time.Since(started).Milliseconds(),
		"app_name", st.rec.AppName,
		"preset", st.preset,
	}
	if res.Err != nil {
		r.deps.Logger.Warn("pipeline aborted", append(attrs, "error", res.Err.Error())...)
	} else {
		r.deps.Logger.Info("pipeline finished", attrs...)
	}
	return res
}

// runStage executes one stage, converting a panic into AbortRetain.
func (r *Runner) runStage(ctx context.Context, st *execution, s stage) (outcome Outcome, err error) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			outcome = AbortRetain
			err = fmt.Errorf("%s stage panicked: %v", s.name, p)
		}
		r.deps.Metrics.Stage(ctx, s.name, outcome.String(), time.Since(started))
		r.deps.Logger.Debug("pipeline stage",
			"recording_id", st.rec.ID,
			"stage", s.name,
			"outcome", outcome.String(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}()
	return s.run(ctx)
}

func (st *execution) transcribe(r *Runner) func(context.Context) (Outcome, error) {
	return func(ctx context.Context) (Outcome, error) {
		if r.deps.Transcriber == nil {
			return AbortRetain, errors.New("transcriber unavailable")
		}
		text, err := r.deps.Transcriber.Transcribe(ctx, st.audio)
		if err != nil {
			return AbortRetain, fmt.Errorf("transcribe: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return AbortRetain, ErrEmptyTranscript
		}
		st.raw = text
		st.text = text
		return Continue, nil
	}
}

func (st *execution) correct(r *Runner) func(context.Context) (Outcome, error) {
	if !r.opts.Corrections || r.deps.Corrections == nil {
		return nil
	}
	return func(context.Context) (Outcome, error) {
		st.text = r.deps.Corrections.Apply(st.text)
		return Continue, nil
	}
}

func (st *execution) detectCommand(r *Runner) func(context.Context) (Outcome, error) {
	if !r.opts.VoiceCommands {
		return nil
	}
	return func(ctx context.Context) (Outcome, error) {
		cmd, residual, ok := voicecmd.Detect(st.text)
		if !ok {
			return Continue, nil
		}
		st.command = string(cmd.Action)
		if err := r.deps.Commands.Execute(ctx, cmd, r.deps.Injector); err != nil {
			return AbortRetain, fmt.Errorf("execute %s: %w", cmd.Action, err)
		}
		if residual != "" {
			st.text = residual
			return Continue, nil
		}

		st.text = ""
		if r.deps.History != nil {
			if _, err := r.deps.History.Record(ctx, st.entry(cmd.Label())); err != nil {
				r.deps.Logger.Error("record command history failed", "recording_id", st.rec.ID, "error", err.Error())
			}
		}
		return Finish, nil
	}
}

func (st *execution) edit(r *Runner) func(context.Context) (Outcome, error) {
	if !r.opts.AIEdit || r.deps.Editor == nil {
		return nil
	}
	return func(ctx context.Context) (Outcome, error) {
		edited, err := r.deps.Editor.Edit(ctx, st.text, st.preset)
		if err != nil {
			return AbortRetain, fmt.Errorf("ai edit: %w", err)
		}
		if strings.TrimSpace(edited) == "" {
			r.deps.Logger.Warn("ai edit returned empty text; keeping input", "recording_id", st.rec.ID, "preset", st.preset)
			return Continue, nil
		}
		st.text = edited
		return Continue, nil
	}
}

func (st *execution) expand(r *Runner) func(context.Context) (Outcome, error) {
	if !r.opts.Snippets || r.deps.Snippets == nil {
		return nil
	}
	return func(context.Context) (Outcome, error) {
		st.text = r.deps.Snippets.Expand(st.text)
		return Continue, nil
	}
}

func (st *execution) inject(r *Runner) func(context.Context) (Outcome, error) {
	return func(ctx context.Context) (Outcome, error) {
		if r.deps.Injector == nil {
			return AbortRetain, errors.New("injector unavailable")
		}
		if err := r.deps.Injector.TypeText(ctx, st.text); err != nil {
			return AbortRetain, fmt.Errorf("inject text: %w", err)
		}
		r.deps.Commands.RememberTyped(st.text)
		return Continue, nil
	}
}

func (st *execution) learn(r *Runner) func(context.Context) (Outcome, error) {
	if !r.opts.AutoLearn || r.deps.Corrections == nil {
		return nil
	}
	return func(context.Context) (Outcome, error) {
		if st.text == st.raw {
			return Continue, nil
		}
		learned, err := r.deps.Corrections.Learn(st.raw, st.text)
		if err != nil {
			r.deps.Logger.Warn("learn corrections failed", "recording_id", st.rec.ID, "error", err.Error())
			return Continue, nil
		}
		for _, entry := range learned {
			r.deps.Logger.Info("learned correction", "trigger", entry.Trigger, "value", entry.Value)
		}
		return Continue, nil
	}
}

func (st *execution) record(r *Runner) func(context.Context) (Outcome, error) {
	return func(ctx context.Context) (Outcome, error) {
		if r.deps.History == nil {
			return Finish, nil
		}
		edited := ""
		if st.text != st.raw {
			edited = st.text
		}
		if _, err := r.deps.History.Record(ctx, st.entry(edited)); err != nil {
			return AbortRetain, fmt.Errorf("record history: %w", err)
		}
		return Finish, nil
	}
}

func (st *execution) entry(edited string) history.Entry {
	return history.Entry{
		RawText:         st.raw,
		EditedText:      edited,
		DurationSeconds: st.duration,
		AppBundleID:     st.rec.AppBundleID,
		AppName:         st.rec.AppName,
		Preset:          st.preset,
	}
}
