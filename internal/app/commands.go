package app

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/rbright/dictum/internal/audio"
	"github.com/rbright/dictum/internal/config"
	"github.com/rbright/dictum/internal/dictionary"
	"github.com/rbright/dictum/internal/doctor"
	"github.com/rbright/dictum/internal/history"
	"github.com/rbright/dictum/internal/ipc"
	"github.com/rbright/dictum/internal/queue"
	"github.com/rbright/dictum/internal/version"
)

// Client deadlines outlast the daemon's own budgets so its reply arrives.
const (
	lifecycleTimeout = ipc.CommandTimeout + time.Second
	sweepTimeout     = ipc.SweepTimeout + 5*time.Second
)

func (r Runner) daemonCmd() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run the dictation daemon",
		Action: func(c *cli.Context) error {
			loaded, err := r.loadConfig(c)
			if err != nil {
				return err
			}
			d, err := NewDaemon(loaded.Config, r.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if err := d.Run(c.Context); err != nil {
				if errors.Is(err, ipc.ErrAlreadyRunning) {
					return cli.Exit(err.Error(), 1)
				}
				r.Logger.Error("daemon failed", "error", err.Error())
				return err
			}
			return nil
		},
	}
}

func (r Runner) lifecycleCmd(name string, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			resp, err := ipc.Call(c.Context, ipc.Request{Command: name}, lifecycleTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.Stdout, resp.State)
			return nil
		},
	}
}

func (r Runner) statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the daemon state",
		Action: func(c *cli.Context) error {
			resp, err := ipc.Call(c.Context, ipc.Request{Command: ipc.CommandStatus}, lifecycleTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.Stdout, resp.State)
			return nil
		},
	}
}

func (r Runner) openQueue(c *cli.Context) (*queue.Queue, config.Config, error) {
	loaded, err := r.loadConfig(c)
	if err != nil {
		return nil, config.Config{}, err
	}
	paths, err := loaded.Config.ResolvePaths()
	if err != nil {
		return nil, config.Config{}, err
	}
	q, err := queue.Open(paths.QueueDir, queue.WithLogger(r.Logger))
	if err != nil {
		return nil, config.Config{}, err
	}
	return q, loaded.Config, nil
}

func (r Runner) queueCmd() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and retry pending recordings",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List pending recordings, oldest first",
				Action: func(c *cli.Context) error {
					q, _, err := r.openQueue(c)
					if err != nil {
						return err
					}
					pending, err := q.Pending()
					if err != nil {
						return err
					}
					if len(pending) == 0 {
						fmt.Fprintln(r.Stdout, "no pending recordings")
						return nil
					}
					w := tabwriter.NewWriter(r.Stdout, 0, 2, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tRECORDED\tAPP\tPRESET")
					for _, rec := range pending {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ID, humanize.Time(rec.Timestamp), orDash(rec.AppName), orDash(rec.Preset))
					}
					return w.Flush()
				},
			},
			{
				Name:  "count",
				Usage: "Print the number of pending recordings",
				Action: func(c *cli.Context) error {
					q, _, err := r.openQueue(c)
					if err != nil {
						return err
					}
					count, err := q.PendingCount()
					if err != nil {
						return err
					}
					fmt.Fprintln(r.Stdout, count)
					return nil
				},
			},
			{
				Name:  "size",
				Usage: "Print the disk space used by pending recordings",
				Action: func(c *cli.Context) error {
					q, _, err := r.openQueue(c)
					if err != nil {
						return err
					}
					size, err := q.SizeBytes()
					if err != nil {
						return err
					}
					fmt.Fprintln(r.Stdout, humanize.Bytes(uint64(size)))
					return nil
				},
			},
			{
				Name:  "cleanup",
				Usage: "Delete pending recordings older than the age limit",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-age-days", Usage: "Age limit in days (default: queue.max_age_days)"},
				},
				Action: func(c *cli.Context) error {
					q, cfg, err := r.openQueue(c)
					if err != nil {
						return err
					}
					days := cfg.Queue.MaxAgeDays
					if c.IsSet("max-age-days") {
						days = c.Int("max-age-days")
					}
					if days <= 0 {
						return cli.Exit("--max-age-days must be > 0", 2)
					}
					removed, err := q.CleanupOld(days)
					if err != nil {
						return err
					}
					fmt.Fprintf(r.Stdout, "removed %d recording(s) older than %d day(s)\n", removed, days)
					return nil
				},
			},
			{
				Name:  "retry",
				Usage: "Ask the daemon to process every pending recording now",
				Action: func(c *cli.Context) error {
					resp, err := ipc.Call(c.Context, ipc.Request{Command: ipc.CommandRetry}, sweepTimeout)
					if err != nil {
						return err
					}
					fmt.Fprintln(r.Stdout, resp.Message)
					return nil
				},
			},
			{
				Name:      "reprocess",
				Usage:     "Ask the daemon to process one pending recording",
				ArgsUsage: "ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("reprocess requires exactly one recording id", 2)
					}
					resp, err := ipc.Call(c.Context, ipc.Request{Command: ipc.CommandReprocess, ID: c.Args().First()}, sweepTimeout)
					if err != nil {
						return err
					}
					fmt.Fprintln(r.Stdout, resp.Message)
					return nil
				},
			},
		},
	}
}

func (r Runner) openHistory(c *cli.Context) (*history.Store, error) {
	loaded, err := r.loadConfig(c)
	if err != nil {
		return nil, err
	}
	paths, err := loaded.Config.ResolvePaths()
	if err != nil {
		return nil, err
	}
	return history.Open(paths.HistoryDB, history.WithLogger(r.Logger))
}

func (r Runner) statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize dictation usage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "range", Aliases: []string{"r"}, Value: "all", Usage: "today|week|month|year|all"},
		},
		Action: func(c *cli.Context) error {
			store, err := r.openHistory(c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rng, err := store.RangeByName(c.String("range"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			stats, err := store.Stats(c.Context, rng)
			if err != nil {
				return err
			}
			fmt.Fprintln(r.Stdout, history.Format(stats))
			return nil
		},
	}
}

func (r Runner) recentCmd() *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "Show the most recent transcriptions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Number of records"},
		},
		Action: func(c *cli.Context) error {
			store, err := r.openHistory(c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(r.Stdout, "no transcriptions yet")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(r.Stdout, "%s  %-12s  %s\n",
					rec.Timestamp.Format("2006-01-02 15:04"),
					orDash(rec.AppName),
					strings.ReplaceAll(rec.FinalText(), "\n", " "),
				)
			}
			return nil
		},
	}
}

func (r Runner) dailyCmd() *cli.Command {
	return &cli.Command{
		Name:  "daily",
		Usage: "Show words dictated per day",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Value: 7, Usage: "Number of days"},
		},
		Action: func(c *cli.Context) error {
			store, err := r.openHistory(c)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counts, err := store.DailyWordCounts(c.Context, c.Int("days"))
			if err != nil {
				return err
			}
			for _, day := range counts {
				fmt.Fprintf(r.Stdout, "%s  %s\n", day.Day, humanize.Comma(int64(day.Words)))
			}
			return nil
		},
	}
}

type dictionaryKind int

const (
	dictionaryKindCorrections dictionaryKind = iota + 1
	dictionaryKindSnippets
)

func (r Runner) openDictionary(c *cli.Context, kind dictionaryKind) (*dictionary.Store, error) {
	loaded, err := r.loadConfig(c)
	if err != nil {
		return nil, err
	}
	paths, err := loaded.Config.ResolvePaths()
	if err != nil {
		return nil, err
	}
	if kind == dictionaryKindSnippets {
		return dictionary.Open(paths.Snippets, dictionary.SnippetsSection)
	}
	return dictionary.Open(paths.Dictionary, dictionary.CorrectionsSection)
}

// notifyReload asks a running daemon to pick up dictionary edits.
func (r Runner) notifyReload(c *cli.Context) {
	if _, err := ipc.Call(c.Context, ipc.Request{Command: ipc.CommandReload}, 500*time.Millisecond); err != nil {
		r.Logger.Debug("dictionary reload not delivered", "error", err.Error())
	}
}

func (r Runner) dictionaryCmd(name string, usage string, kind dictionaryKind) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add or replace an entry",
				ArgsUsage: "TRIGGER VALUE...",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return cli.Exit("add requires a trigger and a value", 2)
					}
					store, err := r.openDictionary(c, kind)
					if err != nil {
						return err
					}
					trigger := c.Args().First()
					value := strings.Join(c.Args().Tail(), " ")
					if err := store.Add(trigger, value); err != nil {
						return err
					}
					r.notifyReload(c)
					fmt.Fprintf(r.Stdout, "%s -> %s\n", strings.ToLower(strings.TrimSpace(trigger)), value)
					return nil
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove an entry",
				ArgsUsage: "TRIGGER",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("remove requires exactly one trigger", 2)
					}
					store, err := r.openDictionary(c, kind)
					if err != nil {
						return err
					}
					removed, err := store.Remove(c.Args().First())
					if err != nil {
						return err
					}
					if !removed {
						return cli.Exit(fmt.Sprintf("no entry for %q", c.Args().First()), 1)
					}
					r.notifyReload(c)
					fmt.Fprintf(r.Stdout, "removed %s\n", c.Args().First())
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List entries sorted by trigger",
				Action: func(c *cli.Context) error {
					store, err := r.openDictionary(c, kind)
					if err != nil {
						return err
					}
					entries := store.List()
					if len(entries) == 0 {
						fmt.Fprintln(r.Stdout, "no entries")
						return nil
					}
					w := tabwriter.NewWriter(r.Stdout, 0, 2, 2, ' ', 0)
					for _, entry := range entries {
						fmt.Fprintf(w, "%s\t%s\n", entry.Trigger, strings.ReplaceAll(entry.Value, "\n", `\n`))
					}
					return w.Flush()
				},
			},
		},
	}
}

func (r Runner) doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Run configuration and environment checks",
		Action: func(c *cli.Context) error {
			loaded, err := r.loadConfig(c)
			if err != nil {
				return err
			}
			report := doctor.Run(c.Context, loaded)
			fmt.Fprintln(r.Stdout, report.String())
			if !report.OK() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func (r Runner) devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List available input devices",
		Action: func(c *cli.Context) error {
			devices, err := audio.ListDevices(c.Context)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(r.Stdout, "no audio devices found")
				return cli.Exit("", 1)
			}

			for _, device := range devices {
				defaultMark := " "
				if device.Default {
					defaultMark = "*"
				}
				fmt.Fprintf(
					r.Stdout,
					"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
					defaultMark,
					device.ID,
					device.Description,
					device.State,
					yesNo(device.Available),
					yesNo(device.Muted),
				)
			}
			return nil
		},
	}
}

func (r Runner) versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(*cli.Context) error {
			fmt.Fprintln(r.Stdout, version.String())
			return nil
		},
	}
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
