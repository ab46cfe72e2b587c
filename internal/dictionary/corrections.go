package dictionary

import (
	"strings"
	"unicode/utf8"
)

// CorrectionsSection is the document key holding personal corrections.
const CorrectionsSection = "corrections"

// Corrections rewrites misrecognized words into the user's preferred spelling.
type Corrections struct {
	*Store
}

// OpenCorrections loads the corrections document at path.
func OpenCorrections(path string) (*Corrections, error) {
	store, err := Open(path, CorrectionsSection)
	if err != nil {
		return nil, err
	}
	return &Corrections{Store: store}, nil
}

// Apply replaces every known trigger with its correction. The correction's
// casing wins over the input's.
func (c *Corrections) Apply(text string) string {
	if c == nil || c.Len() == 0 {
		return text
	}
	return c.Replace(text)
}

// Learn compares original and corrected text word by word and stores a
// correction for each changed word that looks like a respelling. Nothing is
// learned unless both texts have the same word count.
func (c *Corrections) Learn(original string, corrected string) ([]Entry, error) {
	originalWords := strings.Fields(strings.ToLower(original))
	correctedWords := strings.Fields(corrected)
	if len(originalWords) != len(correctedWords) {
		return nil, nil
	}

	learned := make([]Entry, 0)
	for i, orig := range originalWords {
		corr := correctedWords[i]
		lowered := strings.ToLower(corr)
		if orig == lowered || !similar(orig, lowered) {
			continue
		}
		learned = append(learned, Entry{Trigger: orig, Value: corr})
	}
	if len(learned) == 0 {
		return nil, nil
	}
	if err := c.AddAll(learned); err != nil {
		return nil, err
	}
	return learned, nil
}

// similar is a deliberately cheap check: same first letter and a length
// difference of at most two.
func similar(a string, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ra, _ := utf8.DecodeRuneInString(a)
	rb, _ := utf8.DecodeRuneInString(b)
	if ra != rb {
		return false
	}
	diff := utf8.RuneCountInString(a) - utf8.RuneCountInString(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 2
}
