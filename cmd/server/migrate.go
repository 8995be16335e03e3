package main

import (
	"errors"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go.pilab.hu/oidcstore/sqldb"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply client database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.UsesMongo() {
				return errors.New("migrations apply to SQL client databases only")
			}

			db, err := sqldb.Open(cmd.Context(), opts.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := zlog.Logger.WithContext(cmd.Context())
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			zlog.Info().Str("dialect", string(db.Dialect)).Msg("client database is up to date")
			return nil
		},
	}
}
