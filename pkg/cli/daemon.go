package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrodrigosm/llm-user-memory/pkg/metrics"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/update"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func daemonCommand() *cli.Command {
	var (
		cfg         config
		metricsAddr string
		noWatch     bool
		console     bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Diagnostic log file (default: <memory-dir>/memory.log)",
			Sources:     cli.EnvVars("LLM_MEMORY_LOG_FILE"),
			Destination: &cfg.logFile,
		},
		&cli.BoolFlag{
			Name:        "console",
			Usage:       "Log to stderr instead of the diagnostic log file",
			Destination: &console,
		},
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)",
			Sources:     cli.EnvVars("LLM_MEMORY_METRICS_ADDR"),
			Destination: &metricsAddr,
		},
		&cli.BoolFlag{
			Name:        "no-watch",
			Usage:       "Only poll; do not watch the log database for changes",
			Destination: &noWatch,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, logSourceFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, engineFlags(&cfg)...)

	return &cli.Command{
		Name:  "daemon",
		Usage: "Run the background profile updater until interrupted",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if console {
				ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)
			} else {
				var (
					logCloser io.Closer
					err       error
				)
				ctx, logCloser, err = cfg.setupFileLogger(ctx)
				if err != nil {
					return err
				}
				defer logCloser.Close()
			}

			interval, err := parseInterval(cfg.interval)
			if err != nil {
				return err
			}

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

			m := metrics.New()
			engine, engineClosers, err := cfg.newEngine(ctx, store, control, m)
			if err != nil {
				return err
			}
			defer engineClosers.Close()

			sched, err := update.NewScheduler(engine,
				update.WithInterval(interval),
				update.WithControlStore(control),
			)
			if err != nil {
				return err
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			logger(ctx).Info("memory daemon started",
				"memory_dir", cfg.memoryPath(),
				"interval", sched.Interval(),
				"pid", os.Getpid(),
			)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				<-ctx.Done()
				return nil
			})

			if (cfg.logSource == "" || cfg.logSource == "sqlite") && !noWatch {
				w := update.NewWatcher(cfg.logDBPath(), sched.Trigger)
				eg.Go(func() error {
					// polling continues without the watcher
					if err := w.Run(ctx); err != nil {
						logger(ctx).Warn("log watcher stopped", "error", err)
					}
					return nil
				})
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				eg.Go(func() error {
					return serveHTTP(ctx, metricsAddr, mux)
				})
			}

			runErr := eg.Wait()
			if err := sched.Stop(); err != nil {
				logger(ctx).Error("failed to stop scheduler", "error", err)
			}
			logger(ctx).Info("memory daemon stopped")
			return runErr
		},
	}
}
