package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rbright/dictum/internal/appcontext"
	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/fsm"
	"github.com/rbright/dictum/internal/ipc"
	"github.com/rbright/dictum/internal/pipeline"
	"github.com/rbright/dictum/internal/queue"
	"github.com/stretchr/testify/require"
)

func TestActivateDeactivateCompletesRecording(t *testing.T) {
	q := openQueue(t)
	rec := &fakeRecorder{wav: testWAV(t, 16000)}
	proc := &fakeProcessor{result: pipeline.Result{Outcome: pipeline.Finish, Stage: pipeline.StageRecord}}
	ind := &fakeIndicator{}
	ctrl := NewController(Deps{
		Recorder:  rec,
		Context:   fakeContext{info: appcontext.Info{BundleID: "kitty", Name: "shell", Preset: "code"}},
		Store:     q,
		Processor: proc,
		Indicator: ind,
	})

	changed, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, fsm.StateRecording, ctrl.State())

	changed, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	ctrl.Wait()

	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Len(t, proc.jobs(), 1)
	job := proc.jobs()[0]
	require.Equal(t, "kitty", job.Recording.AppBundleID)
	require.Equal(t, "code", job.Recording.Preset)
	require.InDelta(t, 1.0, job.DurationSeconds, 0.001)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Equal(t, int32(1), ind.completes.Load())
}

func TestMarkCompletedRetriesTransientFailure(t *testing.T) {
	q := openQueue(t)
	store := &flakyMarkStore{Queue: q, failures: 1}
	ind := &fakeIndicator{}
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{wav: testWAV(t, 1600)},
		Store:     store,
		Processor: &fakeProcessor{result: pipeline.Result{Outcome: pipeline.Finish, Stage: pipeline.StageRecord}},
		Indicator: ind,
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	ctrl.Wait()

	require.Equal(t, int32(2), store.calls.Load())
	count, err := q.PendingCount()
	require.NoError(t, err)
	require.Zero(t, count)
	require.Equal(t, int32(1), ind.completes.Load())
}

func TestMarkCompletedFailureLogsErrorAndKeepsRecording(t *testing.T) {
	q := openQueue(t)
	store := &flakyMarkStore{Queue: q, failures: 100}
	ind := &fakeIndicator{}
	var logs bytes.Buffer
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{wav: testWAV(t, 1600)},
		Store:     store,
		Processor: &fakeProcessor{result: pipeline.Result{Outcome: pipeline.Finish, Stage: pipeline.StageRecord}},
		Indicator: ind,
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	ctrl.Wait()

	require.Equal(t, int32(markAttempts), store.calls.Load())
	require.Contains(t, logs.String(), `"level":"ERROR"`)
	require.Contains(t, logs.String(), "mark completed failed; recording will be replayed")

	count, err := q.PendingCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int32(1), ind.completes.Load())
	require.Equal(t, fsm.StateIdle, ctrl.State())
}

func TestFailedPipelineLeavesRecordingQueued(t *testing.T) {
	q := openQueue(t)
	proc := &fakeProcessor{result: pipeline.Result{
		Outcome: pipeline.AbortRetain,
		Stage:   pipeline.StageTranscribe,
		Err:     errors.New("connection refused"),
	}}
	ind := &fakeIndicator{}
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{wav: testWAV(t, 1600)},
		Store:     q,
		Processor: proc,
		Indicator: ind,
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	ctrl.Wait()

	require.Equal(t, fsm.StateIdle, ctrl.State())
	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, []string{"Saved for retry"}, ind.errorTexts())

	// The hold is released, so a sweep can pick the recording up.
	processed := q.ProcessPending(context.Background(), func(context.Context, queue.Recording, []byte) error {
		return nil
	}, nil)
	require.Equal(t, 1, processed)
}

func TestEmptyTranscriptKeepsRecording(t *testing.T) {
	q := openQueue(t)
	ind := &fakeIndicator{}
	ctrl := NewController(Deps{
		Recorder: &fakeRecorder{wav: testWAV(t, 1600)},
		Store:    q,
		Processor: &fakeProcessor{result: pipeline.Result{
			Outcome: pipeline.AbortRetain,
			Stage:   pipeline.StageTranscribe,
			Err:     pipeline.ErrEmptyTranscript,
		}},
		Indicator: ind,
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	ctrl.Wait()

	count, err := q.PendingCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, []string{"No speech detected"}, ind.errorTexts())
}

func TestEmptyAudioReturnsToIdleWithoutQueueing(t *testing.T) {
	q := openQueue(t)
	proc := &fakeProcessor{}
	ind := &fakeIndicator{}
	ctrl := NewController(Deps{Recorder: &fakeRecorder{}, Store: q, Processor: proc, Indicator: ind})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	changed, err := ctrl.Deactivate(context.Background())
	require.ErrorIs(t, err, ErrEmptyAudio)
	require.True(t, changed)
	ctrl.Wait()

	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Empty(t, proc.jobs())
	count, err := q.PendingCount()
	require.NoError(t, err)
	require.Zero(t, count)
	require.Equal(t, int32(1), ind.cancels.Load())
}

func TestStopErrorCancelsRecording(t *testing.T) {
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{stopErr: errors.New("stream closed")},
		Store:     openQueue(t),
		Processor: &fakeProcessor{},
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.ErrorContains(t, err, "stop capture: stream closed")
	require.Equal(t, fsm.StateIdle, ctrl.State())
}

func TestSaveFailurePropagatesAndReturnsToIdle(t *testing.T) {
	proc := &fakeProcessor{}
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{wav: testWAV(t, 1600)},
		Store:     failingStore{err: errors.New("disk full")},
		Processor: proc,
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.ErrorContains(t, err, "disk full")
	ctrl.Wait()

	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Empty(t, proc.jobs())
}

func TestStartFailureStaysIdle(t *testing.T) {
	ind := &fakeIndicator{}
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{startErr: errors.New("no source")},
		Store:     openQueue(t),
		Processor: &fakeProcessor{},
		Indicator: ind,
	})

	changed, err := ctrl.Activate(context.Background())
	require.ErrorContains(t, err, "start capture")
	require.False(t, changed)
	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Equal(t, []string{"Unable to start recording"}, ind.errorTexts())
}

func TestReentrantCallsAreIgnored(t *testing.T) {
	release := make(chan struct{})
	rec := &fakeRecorder{wav: testWAV(t, 1600)}
	proc := &fakeProcessor{
		result: pipeline.Result{Outcome: pipeline.Finish},
		block:  release,
	}
	ctrl := NewController(Deps{Recorder: rec, Store: openQueue(t), Processor: proc})

	changed, err := ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	_, err = ctrl.Activate(context.Background())
	require.NoError(t, err)
	changed, err = ctrl.Activate(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, int32(1), rec.starts.Load())

	_, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	require.Equal(t, fsm.StateProcessing, ctrl.State())

	changed, err = ctrl.Activate(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
	changed, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	close(release)
	ctrl.Wait()
	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Len(t, proc.jobs(), 1)
}

func TestPipelinePanicReturnsToIdle(t *testing.T) {
	q := openQueue(t)
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{wav: testWAV(t, 1600)},
		Store:     q,
		Processor: &fakeProcessor{panicValue: "boom"},
	})

	_, err := ctrl.Activate(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Deactivate(context.Background())
	require.NoError(t, err)
	ctrl.Wait()

	require.Equal(t, fsm.StateIdle, ctrl.State())
	count, err := q.PendingCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestHandleRoutesLifecycleCommands(t *testing.T) {
	ctrl := NewController(Deps{
		Recorder:  &fakeRecorder{wav: testWAV(t, 1600)},
		Store:     openQueue(t),
		Processor: &fakeProcessor{result: pipeline.Result{Outcome: pipeline.Finish}},
	})

	status := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)

	ignored := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandDeactivate})
	require.True(t, ignored.OK)
	require.Equal(t, "ignored", ignored.Message)

	started := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.True(t, started.OK)
	require.Equal(t, string(fsm.StateRecording), started.State)

	stopped := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.True(t, stopped.OK)
	ctrl.Wait()
	require.Equal(t, fsm.StateIdle, ctrl.State())

	unknown := ctrl.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func openQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(t.TempDir())
	require.NoError(t, err)
	return q
}

// testWAV returns a mono 16 kHz WAV payload with the given sample count.
func testWAV(t *testing.T, samples int) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(make([]byte, samples*2), 16000, 1)
	require.NoError(t, err)
	return data
}

type fakeRecorder struct {
	wav      []byte
	startErr error
	stopErr  error
	starts   atomic.Int32
}

func (f *fakeRecorder) Start(context.Context) error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeRecorder) Stop(context.Context) ([]byte, error) {
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return f.wav, nil
}

type fakeContext struct {
	info appcontext.Info
}

func (f fakeContext) Current(context.Context) appcontext.Info { return f.info }

type fakeProcessor struct {
	mu         sync.Mutex
	seen       []pipeline.Job
	result     pipeline.Result
	block      chan struct{}
	panicValue any
}

func (f *fakeProcessor) Run(_ context.Context, job pipeline.Job) pipeline.Result {
	f.mu.Lock()
	f.seen = append(f.seen, job)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	return f.result
}

func (f *fakeProcessor) jobs() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Job(nil), f.seen...)
}

type failingStore struct {
	err error
}

func (f failingStore) SaveHeld([]byte, queue.Origin) (queue.Recording, error) {
	return queue.Recording{}, f.err
}
func (failingStore) Release(string)             {}
func (failingStore) MarkCompleted(string) error { return nil }

type flakyMarkStore struct {
	*queue.Queue
	failures int32
	calls    atomic.Int32
}

func (f *flakyMarkStore) MarkCompleted(id string) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("read-only file system")
	}
	return f.Queue.MarkCompleted(id)
}

type fakeIndicator struct {
	mu        sync.Mutex
	errors    []string
	completes atomic.Int32
	cancels   atomic.Int32
}

func (*fakeIndicator) ShowRecording(context.Context)  {}
func (*fakeIndicator) ShowProcessing(context.Context) {}
func (f *fakeIndicator) ShowError(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, text)
}
func (f *fakeIndicator) Complete(context.Context) { f.completes.Add(1) }
func (f *fakeIndicator) Cancel(context.Context)   { f.cancels.Add(1) }
func (*fakeIndicator) Hide(context.Context)       {}

func (f *fakeIndicator) errorTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}
