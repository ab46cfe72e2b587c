package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// TypingWPM is the manual typing speed used as the time-saved baseline.
	TypingWPM = 45

	topAppsLimit  = 10
	topWordsLimit = 50
)

var dayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Range is a half-open [Since, Until) interval. Zero bounds are open.
type Range struct {
	Since time.Time
	Until time.Time
}

// IsLifetime reports whether neither bound is set.
func (r Range) IsLifetime() bool {
	return r.Since.IsZero() && r.Until.IsZero()
}

// AppCount is one entry of the top applications list.
type AppCount struct {
	Name  string
	Count int
}

// WordCount is one entry of the top words list.
type WordCount struct {
	Word  string
	Count int
}

// Stats aggregates records in a Range. MostActiveHour is -1 when there is no data.
type Stats struct {
	TotalTranscriptions  int
	TotalWords           int
	TotalChars           int
	TotalDurationSeconds float64
	TypingTimeSeconds    float64
	TimeSavedSeconds     float64
	AverageWords         float64
	MostActiveHour       int
	MostActiveDay        string
	TopApps              []AppCount
	TopWords             []WordCount
}

// Today covers the current local calendar day.
func (s *Store) Today() Range {
	start := startOfDay(s.now())
	return Range{Since: start, Until: start.AddDate(0, 0, 1)}
}

// ThisWeek covers the current Monday-start week.
func (s *Store) ThisWeek() Range {
	today := startOfDay(s.now())
	offset := (int(today.Weekday()) + 6) % 7
	start := today.AddDate(0, 0, -offset)
	return Range{Since: start, Until: start.AddDate(0, 0, 7)}
}

// ThisMonth covers the current calendar month.
func (s *Store) ThisMonth() Range {
	now := s.now().Local()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.Local)
	return Range{Since: start, Until: start.AddDate(0, 1, 0)}
}

// ThisYear covers the current calendar year.
func (s *Store) ThisYear() Range {
	now := s.now().Local()
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.Local)
	return Range{Since: start, Until: start.AddDate(1, 0, 0)}
}

// RangeByName resolves today, week, month, year, or all.
func (s *Store) RangeByName(name string) (Range, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "today":
		return s.Today(), nil
	case "week":
		return s.ThisWeek(), nil
	case "month":
		return s.ThisMonth(), nil
	case "year":
		return s.ThisYear(), nil
	case "", "all":
		return Range{}, nil
	default:
		return Range{}, fmt.Errorf("unknown stats range %q (want today|week|month|year|all)", name)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.Local()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

// Stats computes aggregates over r.
func (s *Store) Stats(ctx context.Context, r Range) (Stats, error) {
	where, args := rangeClause(r)
	stats := Stats{MostActiveHour: -1}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(word_count), 0),
		       COALESCE(SUM(char_count), 0),
		       COALESCE(SUM(duration_seconds), 0)
		FROM transcriptions WHERE `+where, args...).Scan(
		&stats.TotalTranscriptions, &stats.TotalWords, &stats.TotalChars, &stats.TotalDurationSeconds,
	); err != nil {
		return Stats{}, fmt.Errorf("query totals: %w", err)
	}

	if stats.TotalWords > 0 {
		stats.TypingTimeSeconds = float64(stats.TotalWords) / TypingWPM * 60
	}
	stats.TimeSavedSeconds = max(0, stats.TypingTimeSeconds-stats.TotalDurationSeconds)
	if stats.TotalTranscriptions > 0 {
		stats.AverageWords = float64(stats.TotalWords) / float64(stats.TotalTranscriptions)
	}

	var hour sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT CAST(strftime('%H', timestamp) AS INTEGER) AS hour, COUNT(*) AS cnt
		FROM transcriptions WHERE `+where+`
		GROUP BY hour ORDER BY cnt DESC, hour ASC LIMIT 1`, args...).Scan(&hour, new(int))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("query most active hour: %w", err)
	}
	if hour.Valid {
		stats.MostActiveHour = int(hour.Int64)
	}

	var dow sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT strftime('%w', timestamp) AS dow, COUNT(*) AS cnt
		FROM transcriptions WHERE `+where+`
		GROUP BY dow ORDER BY cnt DESC, dow ASC LIMIT 1`, args...).Scan(&dow, new(int))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("query most active day: %w", err)
	}
	if dow.Valid {
		if idx, convErr := strconv.Atoi(dow.String); convErr == nil && idx >= 0 && idx < len(dayNames) {
			stats.MostActiveDay = dayNames[idx]
		}
	}

	if stats.TopApps, err = s.topApps(ctx, where, args); err != nil {
		return Stats{}, err
	}
	if r.IsLifetime() {
		stats.TopWords, err = s.lifetimeTopWords(ctx)
	} else {
		stats.TopWords, err = s.rangedTopWords(ctx, where, args)
	}
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *Store) topApps(ctx context.Context, where string, args []any) ([]AppCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_name, COUNT(*) AS cnt
		FROM transcriptions WHERE `+where+` AND app_name IS NOT NULL
		GROUP BY app_name ORDER BY cnt DESC, app_name ASC LIMIT ?`,
		append(append([]any{}, args...), topAppsLimit)...)
	if err != nil {
		return nil, fmt.Errorf("query top apps: %w", err)
	}
	defer rows.Close()

	var out []AppCount
	for rows.Next() {
		var ac AppCount
		if err := rows.Scan(&ac.Name, &ac.Count); err != nil {
			return nil, fmt.Errorf("scan top app: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func (s *Store) lifetimeTopWords(ctx context.Context) ([]WordCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, count FROM word_counts ORDER BY count DESC, word ASC LIMIT ?`, topWordsLimit)
	if err != nil {
		return nil, fmt.Errorf("query top words: %w", err)
	}
	defer rows.Close()

	var out []WordCount
	for rows.Next() {
		var wc WordCount
		if err := rows.Scan(&wc.Word, &wc.Count); err != nil {
			return nil, fmt.Errorf("scan top word: %w", err)
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

func (s *Store) rangedTopWords(ctx context.Context, where string, args []any) ([]WordCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(edited_text, raw_text) FROM transcriptions WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query texts for top words: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan text: %w", err)
		}
		for _, word := range Tokenize(text) {
			counts[word]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]WordCount, 0, len(counts))
	for word, count := range counts {
		out = append(out, WordCount{Word: word, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > topWordsLimit {
		out = out[:topWordsLimit]
	}
	return out, nil
}

func rangeClause(r Range) (string, []any) {
	clause := "1=1"
	var args []any
	if !r.Since.IsZero() {
		clause += " AND timestamp >= ?"
		args = append(args, r.Since.Local().Format(timestampLayout))
	}
	if !r.Until.IsZero() {
		clause += " AND timestamp < ?"
		args = append(args, r.Until.Local().Format(timestampLayout))
	}
	return clause, args
}

// Format renders stats as a multi-line summary.
func Format(stats Stats) string {
	lines := []string{
		"Transcriptions: " + humanize.Comma(int64(stats.TotalTranscriptions)),
		"Words dictated: " + humanize.Comma(int64(stats.TotalWords)),
		"Characters: " + humanize.Comma(int64(stats.TotalChars)),
		fmt.Sprintf("Recording time: %.1f min", stats.TotalDurationSeconds/60),
		fmt.Sprintf("Est. typing time: %.1f min", stats.TypingTimeSeconds/60),
		fmt.Sprintf("Time saved: %.1f min", stats.TimeSavedSeconds/60),
	}

	if stats.AverageWords > 0 {
		lines = append(lines, fmt.Sprintf("Avg words/transcription: %.1f", stats.AverageWords))
	}
	if stats.MostActiveHour >= 0 {
		hour12 := stats.MostActiveHour % 12
		if hour12 == 0 {
			hour12 = 12
		}
		suffix := "AM"
		if stats.MostActiveHour >= 12 {
			suffix = "PM"
		}
		lines = append(lines, fmt.Sprintf("Most active hour: %d %s", hour12, suffix))
	}
	if stats.MostActiveDay != "" {
		lines = append(lines, "Most active day: "+stats.MostActiveDay)
	}
	if len(stats.TopApps) > 0 {
		lines = append(lines, fmt.Sprintf("Top app: %s (%dx)", stats.TopApps[0].Name, stats.TopApps[0].Count))
	}
	if len(stats.TopWords) > 0 {
		n := min(5, len(stats.TopWords))
		words := make([]string, 0, n)
		for _, wc := range stats.TopWords[:n] {
			words = append(words, wc.Word)
		}
		lines = append(lines, "Top words: "+strings.Join(words, ", "))
	}
	return strings.Join(lines, "\n")
}
