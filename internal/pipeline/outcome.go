// Package pipeline threads one durable recording through transcription, text
// transforms, commands, injection, and history.
package pipeline

import "errors"

// Outcome is the result of one stage.
type Outcome int

const (
	// Continue hands the text to the next stage.
	Continue Outcome = iota
	// Finish ends the run successfully; the recording can be completed.
	Finish
	// AbortDiscard ends the run with nothing worth retrying.
	AbortDiscard
	// AbortRetain ends the run and leaves the recording queued for retry.
	AbortRetain
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Finish:
		return "finish"
	case AbortDiscard:
		return "abort_discard"
	case AbortRetain:
		return "abort_retain"
	default:
		return "unknown"
	}
}

// ErrEmptyTranscript reports a transcription with no speech. The recording
// is retained since silence detection can be a false negative.
var ErrEmptyTranscript = errors.New("no speech recognized")

// Stage names used in logs and metrics.
const (
	StageTranscribe = "transcribe"
	StageCorrect    = "correct"
	StageCommand    = "command"
	StageEdit       = "edit"
	StageExpand     = "expand"
	StageInject     = "inject"
	StageLearn      = "learn"
	StageRecord     = "record"
)

// Result is the terminal state of one run.
type Result struct {
	Outcome Outcome
	// Stage is the last stage that ran.
	Stage   string
	RawText string
	// Text is what was injected (or recorded, on replay).
	Text    string
	Command string
	Err     error
}

// Completed reports whether the recording may be removed from the queue.
func (r Result) Completed() bool {
	return r.Outcome == Finish
}
