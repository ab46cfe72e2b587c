// Package voicecmd classifies utterances as editing commands and executes them.
package voicecmd

import (
	"regexp"
	"strconv"
	"strings"
)

// Action names one editing command.
type Action string

const (
	ActionDeleteLast  Action = "delete_last"
	ActionDeleteWords Action = "delete_words"
	ActionBackspace   Action = "backspace"
	ActionUndo        Action = "undo"
	ActionNewline     Action = "newline"
	ActionTab         Action = "tab"
	ActionSelectAll   Action = "select_all"
	ActionCopy        Action = "copy"
	ActionPaste       Action = "paste"
	ActionCut         Action = "cut"
)

// Command is one detected editing command. Arg is zero for commands without a count.
type Command struct {
	Action Action
	Arg    int
}

// Label renders the command for history records.
func (c Command) Label() string {
	return "[Command: " + string(c.Action) + "]"
}

// argFromMatch marks rules whose count comes from the first capture group.
const argFromMatch = -1

type rule struct {
	pattern *regexp.Regexp
	action  Action
	arg     int
}

// commandRule anchors body at the start of the utterance and requires a word
// boundary (whitespace or end of input) after an optional trailing period.
func commandRule(body string, action Action, arg int) rule {
	return rule{
		pattern: regexp.MustCompile(`(?i)^` + body + `\.?(?:\s+|$)`),
		action:  action,
		arg:     arg,
	}
}

const countWords = `\d+|one|two|three|four|five|six|seven|eight|nine|ten`

// rules is evaluated top-down; the first match wins.
var rules = []rule{
	commandRule(`(?:delete|scratch|cancel)\s+that`, ActionDeleteLast, 0),
	commandRule(`(?:delete|remove)\s+(?:the\s+)?last\s+word`, ActionDeleteWords, 1),
	commandRule(`(?:delete|remove)\s+(?:the\s+)?last\s+(`+countWords+`)\s+words?`, ActionDeleteWords, argFromMatch),
	commandRule(`(?:backspace|back\s+space)`, ActionBackspace, 1),
	commandRule(`undo(?:\s+that)?`, ActionUndo, 0),
	commandRule(`new\s+line`, ActionNewline, 1),
	commandRule(`new\s+paragraph`, ActionNewline, 2),
	commandRule(`(?:press\s+)?enter`, ActionNewline, 1),
	commandRule(`(?:press\s+)?tab`, ActionTab, 0),
	commandRule(`select\s+all`, ActionSelectAll, 0),
	commandRule(`copy(?:\s+that)?`, ActionCopy, 0),
	commandRule(`paste`, ActionPaste, 0),
	commandRule(`cut(?:\s+that)?`, ActionCut, 0),
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// Detect reports the command spoken at the start of text and the trailing
// dictation after it. Without a match it returns ok=false and the input unchanged.
func Detect(text string) (cmd Command, residual string, ok bool) {
	trimmed := strings.TrimSpace(text)
	for _, r := range rules {
		loc := r.pattern.FindStringSubmatchIndex(trimmed)
		if loc == nil {
			continue
		}

		arg := r.arg
		if arg == argFromMatch {
			parsed, valid := parseCount(trimmed[loc[2]:loc[3]])
			if !valid {
				continue
			}
			arg = parsed
		}
		return Command{Action: r.action, Arg: arg}, strings.TrimSpace(trimmed[loc[1]:]), true
	}
	return Command{}, text, false
}

func parseCount(raw string) (int, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if n, ok := numberWords[raw]; ok {
		return n, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
