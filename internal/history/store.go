package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// timestampLayout is local wall-clock time; it sorts lexically and is
// understood by SQLite date functions.
const timestampLayout = "2006-01-02T15:04:05.000000"

const wordTrimChars = `.,!?;:"'()[]{}`

// Entry is the input for one recorded transcription. An empty EditedText
// means the raw text was used unedited.
type Entry struct {
	RawText         string
	EditedText      string
	DurationSeconds float64
	AppBundleID     string
	AppName         string
	Preset          string
}

// Transcription is one stored record.
type Transcription struct {
	ID              int64
	Timestamp       time.Time
	RawText         string
	EditedText      string
	DurationSeconds float64
	WordCount       int
	CharCount       int
	AppBundleID     string
	AppName         string
	Preset          string
}

// FinalText returns the edited text when present, else the raw text.
func (t Transcription) FinalText() string {
	if t.EditedText != "" {
		return t.EditedText
	}
	return t.RawText
}

// DailyCount is the word total for one calendar day (YYYY-MM-DD).
type DailyCount struct {
	Day   string
	Words int
}

// Store is the usage history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the wall clock used for timestamps and ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (and creates) the history database at path.
func Open(path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history database path is required")
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one transcription and updates word counts in the same
// transaction, returning the new record ID.
func (s *Store) Record(ctx context.Context, e Entry) (id int64, err error) {
	final := e.EditedText
	if final == "" {
		final = e.RawText
	}
	words := Tokenize(final)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transcriptions (
		  timestamp, raw_text, edited_text, duration_seconds, word_count, char_count,
		  app_bundle_id, app_name, preset_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.now().Local().Format(timestampLayout),
		e.RawText,
		nullable(e.EditedText),
		e.DurationSeconds,
		len(strings.Fields(final)),
		utf8.RuneCountInString(final),
		nullable(e.AppBundleID),
		nullable(e.AppName),
		nullable(e.Preset),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transcription: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("read transcription id: %w", err)
	}

	for _, word := range words {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO word_counts (word, count) VALUES (?, 1)
			ON CONFLICT(word) DO UPDATE SET count = count + 1`, word); err != nil {
			return 0, fmt.Errorf("update word count: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit history transaction: %w", err)
	}
	return id, nil
}

// Recent returns the newest limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transcription, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, raw_text, edited_text, duration_seconds,
		       word_count, char_count, app_bundle_id, app_name, preset_used
		FROM transcriptions
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent transcriptions: %w", err)
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		var (
			t                         Transcription
			ts                        string
			edited, bundle, app, pset sql.NullString
		)
		if err := rows.Scan(&t.ID, &ts, &t.RawText, &edited, &t.DurationSeconds,
			&t.WordCount, &t.CharCount, &bundle, &app, &pset); err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}
		if t.Timestamp, err = time.ParseInLocation(timestampLayout, ts, time.Local); err != nil {
			return nil, fmt.Errorf("parse transcription timestamp %q: %w", ts, err)
		}
		t.EditedText = edited.String
		t.AppBundleID = bundle.String
		t.AppName = app.String
		t.Preset = pset.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// DailyWordCounts returns per-day word totals for the last days days, oldest first.
func (s *Store) DailyWordCounts(ctx context.Context, days int) ([]DailyCount, error) {
	since := s.now().Local().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(timestamp) AS day, SUM(word_count) AS words
		FROM transcriptions
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day`, since.Format(timestampLayout))
	if err != nil {
		return nil, fmt.Errorf("query daily word counts: %w", err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Words); err != nil {
			return nil, fmt.Errorf("scan daily word count: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// Tokenize splits text into the lowercase words counted for statistics:
// surrounding punctuation stripped, words shorter than three characters dropped.
func Tokenize(text string) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		word := strings.TrimSpace(strings.Trim(strings.ToLower(field), wordTrimChars))
		if utf8.RuneCountInString(word) >= 3 {
			words = append(words, word)
		}
	}
	return words
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
