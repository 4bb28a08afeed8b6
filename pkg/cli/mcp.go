package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/service/mcp"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/admin"
	"github.com/jrodrigosm/llm-user-memory/pkg/usecase/fragment"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func mcpCommand() *cli.Command {
	var (
		cfg      config
		httpAddr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve streamable HTTP on this address instead of stdio",
			Sources:     cli.EnvVars("LLM_MEMORY_MCP_ADDR"),
			Destination: &httpAddr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve memory management tools over the Model Context Protocol",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			// stdout carries the protocol
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)

			store, closers, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}
			defer closers.Close()

			control, err := cfg.newControl()
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(
				admin.New(store, control),
				fragment.New(store, fragment.WithDisabled(cfg.disabled)),
			)
			if err != nil {
				return err
			}

			if httpAddr == "" {
				return srv.Run(ctx)
			}
			return serveHTTP(ctx, httpAddr, srv.Handler())
		},
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger(ctx).Info("serving HTTP", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "HTTP server failed", goerr.V("addr", addr))
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
