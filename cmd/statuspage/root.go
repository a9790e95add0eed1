package main

import (
	"log/slog"
	"os"

	"github.com/bissquit/statuspage-web/internal/config"
	"github.com/bissquit/statuspage-web/internal/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// configEnv names the config file when --config is not given.
const configEnv = "STATUSPAGE_CONFIG"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "statuspage",
		Short:         "Server-rendered status page for the status page backend",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env file is fine; the environment may be set already.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				slog.Warn("failed to load .env file", "error", err)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default $"+configEnv+")")

	cmd.AddCommand(newServeCmd(opts), newRoutesCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	return config.Load(path)
}
