// Package ipc is the unix-socket JSON line protocol between the CLI and the daemon.
package ipc

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Daemon commands.
const (
	CommandStatus     = "status"
	CommandToggle     = "toggle"
	CommandActivate   = "activate"
	CommandDeactivate = "deactivate"
	CommandRetry      = "retry"
	CommandReprocess  = "reprocess"
	CommandReload     = "reload"
)

// Server-side budgets. Sweeps transcribe every pending recording, so they get
// far longer than lifecycle commands.
const (
	CommandTimeout = 5 * time.Second
	SweepTimeout   = 10 * time.Minute
)

// ErrUnknownCommand reports a request naming no daemon command.
var ErrUnknownCommand = errors.New("unknown command")

type Request struct {
	Command string `json:"command"`
	// ID names a pending recording for reprocess.
	ID string `json:"id,omitempty"`
}

// Validate rejects requests the daemon cannot route.
func (r Request) Validate() error {
	switch r.Command {
	case CommandStatus, CommandToggle, CommandActivate, CommandDeactivate, CommandRetry, CommandReload:
		return nil
	case CommandReprocess:
		if strings.TrimSpace(r.ID) == "" {
			return errors.New("reprocess requires a recording id")
		}
		return nil
	case "":
		return errors.New("missing command")
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, r.Command)
	}
}

// Timeout is how long the daemon may spend handling command.
func Timeout(command string) time.Duration {
	switch command {
	case CommandRetry, CommandReprocess:
		return SweepTimeout
	default:
		return CommandTimeout
	}
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   int    `json:"count,omitempty"`
}
