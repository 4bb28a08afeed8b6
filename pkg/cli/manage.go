package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/admin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// newAdmin wires the management use case
func (cfg *config) newAdmin(ctx context.Context) (*admin.UseCase, closers, error) {
	store, c, err := cfg.newStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	control, err := cfg.newControl()
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return admin.New(store, control), c, nil
}

// adminCommand builds a management command sharing store configuration
func adminCommand(name, usage, argsUsage string, extra []cli.Flag, cfg *config, action func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error) *cli.Command {
	flags := extra
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, storeFlags(cfg)...)

	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			uc, closers, err := cfg.newAdmin(ctx)
			if err != nil {
				return err
			}
			defer closers.Close()

			return action(ctx, c, uc)
		},
	}
}

func showCommand() *cli.Command {
	var cfg config

	return adminCommand("show", "Show the current user profile", "", nil, &cfg,
		func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error {
			p, err := uc.Show(ctx)
			if errors.Is(err, model.ErrNoProfile) {
				fmt.Fprintln(c.Root().Writer, "No user profile yet.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(c.Root().Writer, p.Content)
			return nil
		})
}

func clearCommand() *cli.Command {
	var (
		cfg            config
		keepCheckpoint bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "keep-checkpoint",
			Usage:       "Only learn from conversations logged after clearing",
			Destination: &keepCheckpoint,
		},
	}

	return adminCommand("clear", "Erase the user profile", "", flags, &cfg,
		func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error {
			if err := uc.Clear(ctx, keepCheckpoint); err != nil {
				return err
			}

			if keepCheckpoint {
				fmt.Fprintln(c.Root().Writer, "Profile cleared; earlier conversations will not be learned again.")
			} else {
				fmt.Fprintln(c.Root().Writer, "Profile cleared; it will be rebuilt from the whole log.")
			}
			return nil
		})
}

func pauseCommand() *cli.Command {
	var cfg config

	return adminCommand("pause", "Pause background profile updates", "", nil, &cfg,
		func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error {
			if err := uc.Pause(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "Profile updates paused.")
			return nil
		})
}

func resumeCommand() *cli.Command {
	var cfg config

	return adminCommand("resume", "Resume background profile updates", "", nil, &cfg,
		func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error {
			if err := uc.Resume(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, "Profile updates resumed.")
			return nil
		})
}

func intervalCommand() *cli.Command {
	var cfg config

	return adminCommand("interval", "Set the poll interval of the background updater", "<seconds|duration>", nil, &cfg,
		func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error {
			if c.Args().Len() != 1 {
				return goerr.New("exactly one interval argument is required")
			}

			d, err := parseInterval(c.Args().First())
			if err != nil {
				return err
			}
			if d == 0 {
				return goerr.New("interval must be positive")
			}

			if err := uc.SetInterval(ctx, d); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Update interval set to %s.\n", d)
			return nil
		})
}

func statusCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print status as JSON",
			Destination: &asJSON,
		},
	}

	return adminCommand("status", "Show the state of the memory subsystem", "", flags, &cfg,
		func(ctx context.Context, c *cli.Command, uc *admin.UseCase) error {
			st, err := uc.Status(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if asJSON {
				data, err := json.MarshalIndent(statusJSON(st), "", "  ")
				if err != nil {
					return goerr.Wrap(err, "failed to marshal status")
				}
				fmt.Fprintf(w, "%s\n", string(data))
				return nil
			}

			fmt.Fprintf(w, "Updater:     %s\n", activeLabel(st.Active))
			fmt.Fprintf(w, "Updates:     %s\n", pausedLabel(st.Paused))
			fmt.Fprintf(w, "Interval:    %s\n", st.Interval)
			fmt.Fprintf(w, "Profile:     %d bytes\n", st.ProfileSize)
			if st.LastUpdateAt != nil {
				fmt.Fprintf(w, "Last update: %s\n", st.LastUpdateAt.Local().Format(time.DateTime))
			} else {
				fmt.Fprintln(w, "Last update: never")
			}
			if !st.Checkpoint.IsNone() {
				fmt.Fprintf(w, "Checkpoint:  %s\n", st.Checkpoint)
			}
			return nil
		})
}

type statusView struct {
	Active       bool       `json:"active"`
	Paused       bool       `json:"paused"`
	LastUpdateAt *time.Time `json:"last_update_at,omitempty"`
	Checkpoint   string     `json:"checkpoint"`
	Interval     string     `json:"interval"`
	ProfileSize  int        `json:"profile_size"`
}

func statusJSON(st *model.Status) statusView {
	return statusView{
		Active:       st.Active,
		Paused:       st.Paused,
		LastUpdateAt: st.LastUpdateAt,
		Checkpoint:   string(st.Checkpoint),
		Interval:     st.Interval.String(),
		ProfileSize:  st.ProfileSize,
	}
}

func activeLabel(active bool) string {
	if active {
		return "running"
	}
	return "not running"
}

func pausedLabel(paused bool) string {
	if paused {
		return "paused"
	}
	return "enabled"
}
