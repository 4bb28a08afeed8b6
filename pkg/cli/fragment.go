package cli

import (
	"context"
	"fmt"

	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/fragment"
	"github.com/urfave/cli/v3"
)

func fragmentCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:      "fragment",
		Usage:     "Print the prompt fragment holding the user profile",
		ArgsUsage: "[auto|test]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			// The assistant builds its prompt from whatever is printed here,
			// so this command never fails.
			fmt.Fprint(c.Root().Writer, loadFragment(ctx, &cfg, c.Args().First()))
			return nil
		},
	}
}

func loadFragment(ctx context.Context, cfg *config, argument string) string {
	if cfg.disabled {
		return ""
	}
	if argument == "" {
		argument = fragment.ArgumentAuto
	}
	if argument == fragment.ArgumentTest {
		return fragment.New(nil).Load(ctx, argument)
	}

	store, c, err := cfg.newStore(ctx)
	if err != nil {
		logger(ctx).Debug("profile store unavailable", "error", err)
		return ""
	}
	defer c.Close()

	return fragment.New(store).Load(ctx, argument)
}
