// Package output injects dictated text and editing keystrokes into the focused window.
package output

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/atotto/clipboard"
)

// clipboardBackend reads and writes the system clipboard.
type clipboardBackend interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// systemClipboard delegates to atotto/clipboard (wl-clipboard, xclip, or xsel).
type systemClipboard struct{}

func (systemClipboard) Read(context.Context) (string, error) {
	return clipboard.ReadAll()
}

func (systemClipboard) Write(_ context.Context, text string) error {
	return clipboard.WriteAll(text)
}

// commandClipboard writes through a configured argv and reads through fallback.
type commandClipboard struct {
	argv     []string
	fallback clipboardBackend
}

func (c commandClipboard) Read(ctx context.Context) (string, error) {
	return c.fallback.Read(ctx)
}

func (c commandClipboard) Write(ctx context.Context, text string) error {
	return runCommandWithInput(ctx, c.argv, text)
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
