package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "pending"), opts...)
	require.NoError(t, err)
	return q
}

func TestSaveThenPendingSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pending")
	q, err := Open(dir)
	require.NoError(t, err)

	rec, err := q.Save([]byte("RIFFaudio"), Origin{AppBundleID: "org.gnome.Terminal", AppName: "Terminal", Preset: "code"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	restarted, err := Open(dir)
	require.NoError(t, err)

	pending, err := restarted.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, rec.ID, pending[0].ID)
	require.Equal(t, rec.Origin, pending[0].Origin)
	require.True(t, rec.Timestamp.Equal(pending[0].Timestamp))

	audio, err := restarted.ReadAudio(rec.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("RIFFaudio"), audio)

	require.NoError(t, restarted.MarkCompleted(rec.ID))
	pending, err = restarted.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, restarted.MarkCompleted(rec.ID))
}

func TestSaveWritesNullMetadataForMissingContext(t *testing.T) {
	q := newTestQueue(t)
	rec, err := q.Save([]byte("x"), Origin{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(q.Dir(), rec.ID+".json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "timestamp")
	require.Nil(t, raw["app_bundle_id"])
	require.Nil(t, raw["app_name"])
	require.Nil(t, raw["preset"])
}

func TestPendingIsChronological(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := newTestQueue(t, WithClock(func() time.Time { return fixed }))

	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := q.Save([]byte{byte(i)}, Origin{})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 5)
	for i, rec := range pending {
		require.Equal(t, ids[i], rec.ID)
		if i > 0 {
			require.Less(t, pending[i-1].ID, rec.ID)
		}
	}
}

func TestPendingPurgesOrphanedMetadata(t *testing.T) {
	q := newTestQueue(t)
	kept, err := q.Save([]byte("keep"), Origin{})
	require.NoError(t, err)
	orphan, err := q.Save([]byte("lost"), Origin{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(q.Dir(), orphan.ID+".wav")))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, kept.ID, pending[0].ID)

	_, statErr := os.Stat(filepath.Join(q.Dir(), orphan.ID+".json"))
	require.True(t, os.IsNotExist(statErr))

	pending, err = q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestPendingSkipsUnparsableMetadata(t *testing.T) {
	q := newTestQueue(t)
	good, err := q.Save([]byte("ok"), Origin{})
	require.NoError(t, err)

	badID := "00000000000000000000000000"
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), badID+".wav"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), badID+".json"), []byte("{broken"), 0o600))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, good.ID, pending[0].ID)

	_, statErr := os.Stat(filepath.Join(q.Dir(), badID+".json"))
	require.NoError(t, statErr)
}

func TestGetReportsNotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Get("01HZZZZZZZZZZZZZZZZZZZZZZZ")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = q.Get("../escape")
	require.ErrorIs(t, err, ErrNotFound)

	rec, err := q.Save([]byte("x"), Origin{AppName: "Editor"})
	require.NoError(t, err)
	got, err := q.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, "Editor", got.AppName)
}

func TestCountAndSize(t *testing.T) {
	q := newTestQueue(t)

	count, err := q.PendingCount()
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = q.Save(make([]byte, 100), Origin{})
	require.NoError(t, err)
	_, err = q.Save(make([]byte, 50), Origin{})
	require.NoError(t, err)

	count, err = q.PendingCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	size, err := q.SizeBytes()
	require.NoError(t, err)
	require.EqualValues(t, 150, size)
}

func TestCleanupOldRemovesOnlyExpired(t *testing.T) {
	q := newTestQueue(t)
	old, err := q.Save([]byte("old"), Origin{})
	require.NoError(t, err)
	fresh, err := q.Save([]byte("fresh"), Origin{})
	require.NoError(t, err)

	eightDaysAgo := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(q.Dir(), old.ID+".json"), eightDaysAgo, eightDaysAgo))
	sixDaysAgo := time.Now().Add(-6 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(q.Dir(), fresh.ID+".json"), sixDaysAgo, sixDaysAgo))

	removed, err := q.CleanupOld(7)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, fresh.ID, pending[0].ID)

	_, statErr := os.Stat(filepath.Join(q.Dir(), old.ID+".wav"))
	require.True(t, os.IsNotExist(statErr))
}

func TestCleanupOldRejectsNegativeAge(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.CleanupOld(-1)
	require.Error(t, err)
}

func TestOpenRequiresDirectory(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
