package voicecmd

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"
)

// Injector is the keystroke surface commands act on.
type Injector interface {
	DeleteChars(ctx context.Context, n int) error
	DeleteWords(ctx context.Context, n int) error
	Undo(ctx context.Context) error
	PressEnter(ctx context.Context) error
	PressTab(ctx context.Context) error
	SelectAll(ctx context.Context) error
	Copy(ctx context.Context) error
	Cut(ctx context.Context) error
	Paste(ctx context.Context) error
}

// Processor executes commands and remembers how much text was last typed.
type Processor struct {
	mu        sync.Mutex
	lastTyped int
}

// NewProcessor returns a processor with no typed-text history.
func NewProcessor() *Processor {
	return &Processor{}
}

// RememberTyped records the text most recently injected so delete_last can remove it.
func (p *Processor) RememberTyped(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTyped = utf8.RuneCountInString(text)
}

// LastTypedLength returns the character count delete_last would remove.
func (p *Processor) LastTypedLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTyped
}

// takeLastTyped returns and resets the remembered length.
func (p *Processor) takeLastTyped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.lastTyped
	p.lastTyped = 0
	return n
}

// Execute dispatches cmd to the injector.
func (p *Processor) Execute(ctx context.Context, cmd Command, inj Injector) error {
	if inj == nil {
		return fmt.Errorf("execute %s: injector unavailable", cmd.Action)
	}

	switch cmd.Action {
	case ActionDeleteLast:
		if n := p.takeLastTyped(); n > 0 {
			return inj.DeleteChars(ctx, n)
		}
		return nil
	case ActionDeleteWords:
		return inj.DeleteWords(ctx, countOrOne(cmd.Arg))
	case ActionBackspace:
		return inj.DeleteChars(ctx, countOrOne(cmd.Arg))
	case ActionUndo:
		return inj.Undo(ctx)
	case ActionNewline:
		for i := 0; i < countOrOne(cmd.Arg); i++ {
			if err := inj.PressEnter(ctx); err != nil {
				return err
			}
		}
		return nil
	case ActionTab:
		return inj.PressTab(ctx)
	case ActionSelectAll:
		return inj.SelectAll(ctx)
	case ActionCopy:
		return inj.Copy(ctx)
	case ActionCut:
		return inj.Cut(ctx)
	case ActionPaste:
		return inj.Paste(ctx)
	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
}

func countOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
