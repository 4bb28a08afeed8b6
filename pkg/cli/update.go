package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/update"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func updateCommand() *cli.Command {
	var (
		cfg   config
		quiet bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "Do not show progress",
			Destination: &quiet,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, logSourceFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, engineFlags(&cfg)...)

	return &cli.Command{
		Name:  "update",
		Usage: "Fold all pending conversations into the profile and exit",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			// Initialize dependencies
			store, storeClosers, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}
			defer storeClosers.Close()

			control, err := cfg.newControl()
			if err != nil {
				return err
			}

			engine, engineClosers, err := cfg.newEngine(ctx, store, control, nil)
			if err != nil {
				return err
			}
			defer engineClosers.Close()

			progress := c.Root().ErrWriter
			if progress == nil {
				progress = os.Stderr
			}
			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(progress))
			s.Suffix = " updating profile..."
			if !quiet {
				s.Start()
			}

			total, err := runUntilDrained(ctx, engine)
			s.Stop()
			if err != nil {
				return goerr.Wrap(err, "failed to update profile")
			}

			w := c.Root().Writer
			if total.Paused {
				fmt.Fprintln(w, "updates are paused")
				return nil
			}
			fmt.Fprintf(w, "processed %d entries: %d updated, %d unchanged, %d skipped\n",
				total.Processed, total.Updated, total.Unchanged, total.Skipped)
			if !total.Checkpoint.IsNone() {
				fmt.Fprintf(w, "checkpoint: %s\n", total.Checkpoint)
			}
			return nil
		},
	}
}

// runUntilDrained runs cycles until one finds no new entries
func runUntilDrained(ctx context.Context, engine *update.Engine) (*update.CycleResult, error) {
	total := &update.CycleResult{}
	for {
		res, err := engine.RunCycle(ctx)
		if err != nil {
			return total, err
		}

		total.Paused = res.Paused
		total.Processed += res.Processed
		total.Updated += res.Updated
		total.Unchanged += res.Unchanged
		total.Skipped += res.Skipped
		if !res.Checkpoint.IsNone() {
			total.Checkpoint = res.Checkpoint
		}

		if res.Paused || res.Processed == 0 {
			return total, nil
		}
	}
}
