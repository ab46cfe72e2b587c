// Package queue persists captured recordings until they are fully processed.
//
// Each recording is a pair of files sharing a ULID stem: <id>.wav holds the
// audio payload and <id>.json its metadata. Audio is always written first, so
// metadata never exists for audio that was not persisted.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/rbright/dictum/internal/observe"
)

const (
	audioExt = ".wav"
	metaExt  = ".json"
)

// ErrNotFound reports a recording that is not pending.
var ErrNotFound = errors.New("pending recording not found")

// Origin describes where a recording was made.
type Origin struct {
	AppBundleID string
	AppName     string
	Preset      string
}

// Recording is one durable, not yet processed capture.
type Recording struct {
	ID        string
	Timestamp time.Time
	Origin
}

type metadata struct {
	Timestamp   string  `json:"timestamp"`
	AppBundleID *string `json:"app_bundle_id"`
	AppName     *string `json:"app_name"`
	Preset      *string `json:"preset"`
}

// Queue is a directory-backed store of pending recordings.
type Queue struct {
	dir     string
	logger  *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	sweep    *semaphore.Weighted
	stopping atomic.Bool

	heldMu sync.Mutex
	held   map[string]struct{}

	bgMu sync.Mutex
	bg   *Background
}

// Option customizes a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithClock overrides the wall clock used for timestamps and age cleanup.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open creates dir if needed and returns a queue rooted there.
func Open(dir string, opts ...Option) (*Queue, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("queue directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	q := &Queue{
		dir:     dir,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
		sweep:   semaphore.NewWeighted(1),
		held:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return q, nil
}

// Dir returns the storage directory.
func (q *Queue) Dir() string {
	return q.dir
}

// Save persists audio and then its metadata. An error means the recording is
// not durable; a metadata failure leaves the audio file in place.
func (q *Queue) Save(audio []byte, origin Origin) (Recording, error) {
	return q.save(audio, origin, false)
}

// SaveHeld is Save, but sweeps skip the recording until Release is called.
// The live pipeline uses it so a sweep cannot process the same capture.
func (q *Queue) SaveHeld(audio []byte, origin Origin) (Recording, error) {
	return q.save(audio, origin, true)
}

// Release makes a held recording visible to sweeps again.
func (q *Queue) Release(id string) {
	q.heldMu.Lock()
	delete(q.held, id)
	q.heldMu.Unlock()
}

func (q *Queue) isHeld(id string) bool {
	q.heldMu.Lock()
	defer q.heldMu.Unlock()
	_, ok := q.held[id]
	return ok
}

func (q *Queue) save(audio []byte, origin Origin, hold bool) (Recording, error) {
	now := q.now()
	id, err := q.newID(now)
	if err != nil {
		return Recording{}, err
	}
	rec := Recording{ID: id, Timestamp: now, Origin: origin}

	if hold {
		q.heldMu.Lock()
		q.held[id] = struct{}{}
		q.heldMu.Unlock()
	}

	if err := writeFileAtomic(q.audioPath(id), audio); err != nil {
		q.Release(id)
		return Recording{}, fmt.Errorf("save recording audio %s: %w", id, err)
	}

	data, err := json.MarshalIndent(metadata{
		Timestamp:   now.Format(time.RFC3339Nano),
		AppBundleID: optional(origin.AppBundleID),
		AppName:     optional(origin.AppName),
		Preset:      optional(origin.Preset),
	}, "", "  ")
	if err != nil {
		q.Release(id)
		return Recording{}, fmt.Errorf("encode recording metadata %s: %w", id, err)
	}
	if err := writeFileAtomic(q.metaPath(id), data); err != nil {
		q.Release(id)
		return Recording{}, fmt.Errorf("save recording metadata %s: %w", id, err)
	}

	q.metrics.Saved(context.Background())
	q.logger.Info("recording saved", "recording_id", id, "bytes", len(audio), "app_name", origin.AppName, "preset", origin.Preset)
	return rec, nil
}

func (q *Queue) newID(at time.Time) (string, error) {
	q.idMu.Lock()
	defer q.idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), q.entropy)
	if err != nil {
		return "", fmt.Errorf("generate recording id: %w", err)
	}
	return id.String(), nil
}

// Pending lists recordings oldest first. Metadata whose audio is missing is
// deleted; metadata that cannot be parsed is logged and skipped.
func (q *Queue) Pending() ([]Recording, error) {
	ids, err := q.metadataIDs()
	if err != nil {
		return nil, err
	}

	pending := make([]Recording, 0, len(ids))
	for _, id := range ids {
		rec, err := q.load(id)
		switch {
		case err == nil:
			pending = append(pending, rec)
		case errors.Is(err, ErrNotFound):
		default:
			q.logger.Warn("skipping unreadable recording metadata", "recording_id", id, "error", err.Error())
		}
	}
	return pending, nil
}

// Get returns one pending recording.
func (q *Queue) Get(id string) (Recording, error) {
	id = strings.TrimSpace(id)
	if !validID(id) {
		return Recording{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if _, err := os.Stat(q.metaPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Recording{}, fmt.Errorf("stat recording metadata %s: %w", id, err)
	}
	return q.load(id)
}

// load reads metadata for id, purging it when the audio payload is gone.
func (q *Queue) load(id string) (Recording, error) {
	if _, err := os.Stat(q.audioPath(id)); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Recording{}, fmt.Errorf("stat recording audio %s: %w", id, err)
		}
		if rmErr := os.Remove(q.metaPath(id)); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			q.logger.Warn("failed to remove orphaned metadata", "recording_id", id, "error", rmErr.Error())
		} else {
			q.logger.Info("removed orphaned recording metadata", "recording_id", id)
		}
		return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(q.metaPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Recording{}, fmt.Errorf("read recording metadata %s: %w", id, err)
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Recording{}, fmt.Errorf("decode recording metadata %s: %w", id, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, meta.Timestamp)
	if err != nil {
		return Recording{}, fmt.Errorf("parse recording timestamp %s: %w", id, err)
	}

	return Recording{
		ID:        id,
		Timestamp: ts,
		Origin: Origin{
			AppBundleID: deref(meta.AppBundleID),
			AppName:     deref(meta.AppName),
			Preset:      deref(meta.Preset),
		},
	}, nil
}

// ReadAudio returns the audio payload of a pending recording.
func (q *Queue) ReadAudio(id string) ([]byte, error) {
	data, err := os.ReadFile(q.audioPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read recording audio %s: %w", id, err)
	}
	return data, nil
}

// MarkCompleted removes both files for id. Missing files are not an error.
func (q *Queue) MarkCompleted(id string) error {
	var errs []error
	for _, path := range []string{q.audioPath(id), q.metaPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mark recording %s completed: %w", id, errors.Join(errs...))
	}
	q.metrics.Completed(context.Background())
	q.logger.Debug("recording completed", "recording_id", id)
	return nil
}

// PendingCount counts metadata files without validating them.
func (q *Queue) PendingCount() (int, error) {
	ids, err := q.metadataIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SizeBytes sums the size of all stored audio payloads.
func (q *Queue) SizeBytes() (int64, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0, fmt.Errorf("read queue directory: %w", err)
	}

	var total int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != audioExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

// CleanupOld removes recordings whose metadata was last modified more than
// maxAgeDays ago and returns how many were removed. Held recordings are kept.
func (q *Queue) CleanupOld(maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("max age days must be >= 0, got %d", maxAgeDays)
	}
	ids, err := q.metadataIDs()
	if err != nil {
		return 0, err
	}

	cutoff := q.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	removed := 0
	for _, id := range ids {
		if q.isHeld(id) {
			continue
		}
		info, err := os.Stat(q.metaPath(id))
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := q.MarkCompleted(id); err != nil {
			q.logger.Warn("failed to remove expired recording", "recording_id", id, "error", err.Error())
			continue
		}
		removed++
	}

	if removed > 0 {
		q.logger.Info("removed expired recordings", "count", removed, "max_age_days", maxAgeDays)
	}
	return removed, nil
}

// metadataIDs returns metadata stems in ascending (chronological) order.
func (q *Queue) metadataIDs() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("read queue directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != metaExt {
			continue
		}
		id := strings.TrimSuffix(name, metaExt)
		if !validID(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (q *Queue) audioPath(id string) string { return filepath.Join(q.dir, id+audioExt) }
func (q *Queue) metaPath(id string) string  { return filepath.Join(q.dir, id+metaExt) }

func validID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
