// Package dictionary persists trigger->replacement maps used to correct and
// expand transcribed text.
package dictionary

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Entry is one trigger and its replacement.
type Entry struct {
	Trigger string
	Value   string
}

type rule struct {
	trigger string
	value   string
	pattern *regexp.Regexp
}

// Store is a write-through trigger map persisted as a single document keyed
// by section (for example {"corrections": {...}}).
//
// Triggers are stored lowercase. Substitution runs longest trigger first, ties
// broken by trigger, so overlapping triggers resolve the same way every run.
type Store struct {
	path    string
	section string

	mu      sync.RWMutex
	entries map[string]string
	rules   []rule
}

// Open loads the document at path, or starts empty when the file is absent.
func Open(path string, section string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("dictionary path must not be empty")
	}
	if strings.TrimSpace(section) == "" {
		return nil, errors.New("dictionary section must not be empty")
	}

	s := &Store{path: path, section: section, entries: map[string]string{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory entries with the document on disk.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.entries
	s.entries = map[string]string{}
	if err := s.load(); err != nil {
		s.entries = previous
		return err
	}
	s.rebuildLocked()
	return nil
}

// Path returns the backing document path.
func (s *Store) Path() string {
	return s.path
}

// Add stores trigger (lowercased) -> value and persists immediately.
func (s *Store) Add(trigger string, value string) error {
	return s.AddAll([]Entry{{Trigger: trigger, Value: value}})
}

// AddAll stores every entry and persists once.
func (s *Store) AddAll(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		key := normalizeTrigger(entry.Trigger)
		if key == "" {
			return errors.New("trigger must not be empty")
		}
		s.entries[key] = entry.Value
	}
	s.rebuildLocked()
	return s.saveLocked()
}

// Remove deletes trigger when present and persists; it reports whether the
// trigger existed.
func (s *Store) Remove(trigger string) (bool, error) {
	key := normalizeTrigger(trigger)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	s.rebuildLocked()
	if err := s.saveLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Lookup returns the value stored for trigger.
func (s *Store) Lookup(trigger string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[normalizeTrigger(trigger)]
	return value, ok
}

// All returns a copy of the stored map.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// List returns entries sorted by trigger.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for k, v := range s.entries {
		out = append(out, Entry{Trigger: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out
}

// Len returns the number of stored triggers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Replace substitutes every stored trigger found on word boundaries,
// case-insensitively. The replacement is inserted literally.
func (s *Store) Replace(text string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := text
	for _, r := range s.rules {
		result = r.replaceWords(result)
	}
	return result
}

// replaceWords rewrites every case-insensitive occurrence of the trigger whose
// neighbours are not letters, digits, or marks of the same word. The check
// runs on runes so accented words count as whole words.
func (r rule) replaceWords(text string) string {
	var b strings.Builder
	last, pos := 0, 0
	for pos <= len(text) {
		loc := r.pattern.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end == start {
			break
		}
		if !r.boundedAt(text, start, end) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(r.value)
		last, pos = end, end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// boundedAt reports whether text[start:end] stands on word boundaries. A
// trigger edge that is itself punctuation needs no boundary on that side.
func (r rule) boundedAt(text string, start int, end int) bool {
	first, _ := utf8.DecodeRuneInString(text[start:end])
	if isWordRune(first) && start > 0 {
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(before) {
			return false
		}
	}
	lastRune, _ := utf8.DecodeLastRuneInString(text[start:end])
	if isWordRune(lastRune) && end < len(text) {
		after, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(after) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r)
}

func (s *Store) rebuildLocked() {
	rules := make([]rule, 0, len(s.entries))
	for trigger, value := range s.entries {
		rules = append(rules, rule{
			trigger: trigger,
			value:   value,
			pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(trigger)),
		})
	}
	sort.Slice(rules, func(i, j int) bool {
		li := utf8.RuneCountInString(rules[i].trigger)
		lj := utf8.RuneCountInString(rules[j].trigger)
		if li != lj {
			return li > lj
		}
		return rules[i].trigger < rules[j].trigger
	})
	s.rules = rules
}

func (s *Store) load() error {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read dictionary %q: %w", s.path, err)
	}

	doc := map[string]map[string]string{}
	if strings.TrimSpace(string(content)) != "" {
		if isYAML(s.path) {
			err = yaml.Unmarshal(content, &doc)
		} else {
			err = json.Unmarshal(content, &doc)
		}
		if err != nil {
			return fmt.Errorf("decode dictionary %q: %w", s.path, err)
		}
	}

	for trigger, value := range doc[s.section] {
		key := normalizeTrigger(trigger)
		if key == "" {
			continue
		}
		s.entries[key] = value
	}
	s.rebuildLocked()
	return nil
}

// saveLocked rewrites the whole document through a temp file + rename.
func (s *Store) saveLocked() error {
	doc := map[string]map[string]string{s.section: s.entries}

	var (
		data []byte
		err  error
	)
	if isYAML(s.path) {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode dictionary: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dictionary dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp dictionary: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write dictionary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close dictionary: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace dictionary %q: %w", s.path, err)
	}
	return nil
}

func normalizeTrigger(trigger string) string {
	return strings.ToLower(strings.TrimSpace(trigger))
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
