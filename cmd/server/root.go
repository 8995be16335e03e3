package main

import (
	"github.com/spf13/cobra"

	"go.pilab.hu/oidcstore/config"
	"go.pilab.hu/oidcstore/log"
)

type rootOptions struct {
	envFile string
	cfg     *config.ServerConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "oidcstore",
		Short:         "OIDC protocol state store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var files []string
			if opts.envFile != "" {
				files = append(files, opts.envFile)
			}

			cfg, err := config.LoadConfig(files...)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			log.Setup(cfg.LogLevel, cfg.LogPretty)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "env file to load (default .env)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newClientCmd(opts),
	)

	return cmd
}
