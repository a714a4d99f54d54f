package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/config"
	"github.com/tonimelisma/todosync/internal/entity"
	"github.com/tonimelisma/todosync/internal/remote"
	"github.com/tonimelisma/todosync/internal/tokenfile"
)

// loginCheckTimeout bounds the request that verifies a new token.
const loginCheckTimeout = 10 * time.Second

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save an API token for the configured server",
		Long: `Read an API token from standard input and save it in the data directory
with owner-only permissions. The token is checked against the server first
unless --offline is set.

A token in the config file or TODOSYNC_TOKEN takes precedence over the
saved one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			in := cmd.InOrStdin()
			if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
				fmt.Fprintf(os.Stderr, "API token for %s: ", cc.Cfg.Server.URL)
			}

			token, err := readToken(in)
			if err != nil {
				return err
			}

			if !cc.Flags.Offline {
				if err := checkToken(cmd.Context(), cc, token); err != nil {
					return err
				}
			}

			path := tokenfile.Path(cc.Cfg.Storage.DataDir)
			if err := tokenfile.Save(path, cc.Cfg.Server.URL, token, time.Now()); err != nil {
				return err
			}

			cc.Statusf("Saved token for %s\n", cc.Cfg.Server.URL)

			if cc.Cfg.Server.Token != "" {
				cc.Statusf("Note: the token from the config file or %s is still used first.\n", config.EnvToken)
			}

			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			removed, err := tokenfile.Remove(tokenfile.Path(cc.Cfg.Storage.DataDir))
			if err != nil {
				return err
			}

			if !removed {
				cc.Statusf("No saved token.\n")
				return nil
			}

			cc.Statusf("Removed saved token.\n")

			return nil
		},
	}
}

// readToken returns the first non-empty line of r.
func readToken(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if tok := strings.TrimSpace(scanner.Text()); tok != "" {
			return tok, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}

	return "", errors.New("no token given on standard input")
}

// checkToken lists tasks with token to confirm the server accepts it.
func checkToken(ctx context.Context, cc *CLIContext, token string) error {
	ctx, cancel := context.WithTimeout(ctx, loginCheckTimeout)
	defer cancel()

	cfg := *cc.Cfg
	cfg.Server.Token = token

	_, err := remote.NewResource[entity.Task](newTransport(&cfg, cc.Logger), kindTasks).List(ctx)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrForbidden):
		return fmt.Errorf("server rejected the token: %w", err)
	default:
		return fmt.Errorf("checking token (use --offline to save it unchecked): %w", err)
	}
}
