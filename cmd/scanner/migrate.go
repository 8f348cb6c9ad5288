package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/phrazzld/pdfscan/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [" + strings.Join(postgres.MigrationCommands, "|") + "]",
		Short:     "Apply or inspect database migrations (default: up)",
		ValidArgs: postgres.MigrationCommands,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), validMigrationCommand),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database.URL, 1, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return postgres.Migrate(cmd.Context(), db, command, log)
		},
	}
}

func validMigrationCommand(_ *cobra.Command, args []string) error {
	for _, arg := range args {
		if !slices.Contains(postgres.MigrationCommands, arg) {
			return fmt.Errorf("unknown migration command %q, expected one of %s",
				arg, strings.Join(postgres.MigrationCommands, ", "))
		}
	}
	return nil
}
