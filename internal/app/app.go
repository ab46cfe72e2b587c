// Package app wires the dictum command line to the daemon and local stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/logging"
)

// Runner executes one CLI invocation.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute runs args (without the program name) and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	if r.Logger == nil {
		logRuntime, err := logging.New()
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: setup logging: %v\n", err)
			r.Logger = logging.Discard()
		} else {
			defer func() { _ = logRuntime.Close() }()
			r.Logger = logRuntime.Logger
		}
	}

	err := r.newCLIApp().RunContext(ctx, append([]string{"dictum"}, args...))
	if err == nil {
		return 0
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintf(r.Stderr, "error: %s\n", msg)
		}
		return exitErr.ExitCode()
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return 1
}

// newCLIApp creates the CLI application with all commands.
func (r Runner) newCLIApp() *cli.App {
	app := &cli.App{
		Name:                 "dictum",
		Usage:                "Durable push-to-talk dictation for Hyprland",
		HideVersion:          true,
		EnableBashCompletion: true,
		Writer:               r.Stdout,
		ErrWriter:            r.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file path (default: $XDG_CONFIG_HOME/dictum/config.jsonc)"},
		},
		Commands: []*cli.Command{
			r.daemonCmd(),
			r.lifecycleCmd("toggle", "Start recording, or stop and process when already recording"),
			r.lifecycleCmd("activate", "Start recording"),
			r.lifecycleCmd("deactivate", "Stop recording and process the audio"),
			r.statusCmd(),
			r.queueCmd(),
			r.statsCmd(),
			r.recentCmd(),
			r.dailyCmd(),
			r.dictionaryCmd("dict", "Manage personal corrections", dictionaryKindCorrections),
			r.dictionaryCmd("snippet", "Manage snippet expansions", dictionaryKindSnippets),
			r.doctorCmd(),
			r.devicesCmd(),
			r.versionCmd(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return cli.Exit(fmt.Sprintf("unknown command: %s", c.Args().First()), 2)
			}
			return cli.ShowAppHelp(c)
		},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return cli.Exit(err.Error(), 2)
		},
	}
	// Exit codes are mapped by Execute.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// loadConfig resolves and validates config, reporting warnings on stderr.
func (r Runner) loadConfig(c *cli.Context) (config.Loaded, error) {
	loaded, err := config.Load(c.String("config"))
	if err != nil {
		r.Logger.Error("load config failed", "error", err.Error())
		return config.Loaded{}, err
	}
	for _, w := range loaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		r.Logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
	r.Logger.Debug("config loaded", "command", c.Command.Name, "config", loaded.Path)
	return loaded, nil
}
