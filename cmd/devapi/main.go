// Command devapi serves an in-memory copy of the todosync REST API for local
// development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/devapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr       string
		token      string
		numericIDs bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:           "devapi",
		Short:         "In-memory todosync REST server",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			srv := devapi.New(devapi.Config{
				Token:      token,
				NumericIDs: numericIDs,
				Logger:     logger,
			})

			return serve(cmd.Context(), addr, srv.Routes(), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8085", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token")
	cmd.Flags().BoolVar(&numericIDs, "numeric-ids", false, "replace non-UUID client ids with server-side numeric ids")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every request")

	return cmd
}

// serve runs the HTTP server until SIGINT or SIGTERM, then shuts down
// gracefully.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting HTTP server", slog.String("addr", addr))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("devapi: serving on %s: %w", addr, err)
		}

		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devapi: shutdown: %w", err)
	}

	return nil
}
