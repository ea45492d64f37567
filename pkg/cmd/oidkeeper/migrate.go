package oidkeeper

import (
	"github.com/spf13/cobra"

	"oidkeeper/internal/infrastructure/repositories"
	"oidkeeper/internal/infrastructure/repositories/codec"
)

func newMigrateCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			factory := repositories.NewFactory(o.cfg.Store, codec.NewRegistry(), o.logger)
			applied, err := factory.Migrate(c.Context())
			if err != nil {
				return err
			}
			if applied == nil {
				applied = []string{}
			}
			o.logger.Info("migrations done", "store", string(o.cfg.Store.Type), "applied", len(applied))
			return o.printJSON(map[string][]string{"applied": applied})
		},
	}
}
