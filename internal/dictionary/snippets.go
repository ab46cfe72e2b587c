package dictionary

import "strings"

// SnippetsSection is the document key holding snippet expansions.
const SnippetsSection = "snippets"

// Snippets expands short spoken triggers into longer text.
type Snippets struct {
	*Store
}

// OpenSnippets loads the snippets document at path.
func OpenSnippets(path string) (*Snippets, error) {
	store, err := Open(path, SnippetsSection)
	if err != nil {
		return nil, err
	}
	return &Snippets{Store: store}, nil
}

// Expand replaces the whole input when it is exactly one trigger, otherwise
// expands each trigger found on word boundaries.
func (s *Snippets) Expand(text string) string {
	if s == nil || s.Len() == 0 {
		return text
	}
	if expansion, ok := s.Lookup(strings.TrimSpace(text)); ok {
		return expansion
	}
	return s.Replace(text)
}
