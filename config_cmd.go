package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/todosync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigReloadCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(os.Stdout, config.Redacted(cc.Cfg))
			}

			return config.RenderEffective(cc.Cfg, cc.CfgPath, os.Stdout)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file",
		Long: `Create a config file at the default location, or at --config if given.
An existing file is never overwritten.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			path := cc.CfgPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if serverURL == "" {
				serverURL = cc.CLI.ServerURL
			}

			if err := config.CreateTemplate(path, serverURL); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return fmt.Errorf("%w (edit it, or remove it to start over)", err)
				}

				return err
			}

			cc.Statusf("Wrote %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "server URL to write into the file")

	return cmd
}

func newConfigReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running watch daemon to re-read its config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := sendSIGHUP(config.PIDFilePath(cc.Cfg.Storage.DataDir))
			if err != nil {
				return err
			}

			cc.Statusf("Sent reload to watch daemon (PID %d)\n", pid)

			return nil
		},
	}
}
