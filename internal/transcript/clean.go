// Package transcript normalizes raw speech-to-text output before it enters the text pipeline.
package transcript

import (
	"regexp"
	"strings"
)

// nonSpeechPattern matches whisper annotations such as [BLANK_AUDIO], [ Silence ], (music), or *coughs*.
var nonSpeechPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\b(?i:music|silence|applause|laughter|noise|inaudible|blank_audio)\b[^)]*\)|\*[^*]+\*`)

// Options controls cleanup behavior.
type Options struct {
	CapitalizePronounI bool
}

// Clean strips non-speech annotations and collapses whitespace.
//
// The result is empty when the input held no speech.
func Clean(text string, opts Options) string {
	text = nonSpeechPattern.ReplaceAllString(text, " ")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if isPunctuationOnly(text) {
		return ""
	}
	if opts.CapitalizePronounI {
		text = capitalizeStandalonePronounI(text)
	}
	return text
}

// Join cleans and concatenates segment texts returned by a segmented response.
func Join(segments []string, opts Options) string {
	return Clean(strings.Join(segments, " "), opts)
}

func isPunctuationOnly(text string) bool {
	for _, r := range text {
		if !strings.ContainsRune(".,!?;:-…'\"", r) && r != ' ' {
			return false
		}
	}
	return true
}
