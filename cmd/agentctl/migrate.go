package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"theological-agent/internal/repository"
)

func (c *cli) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE:  c.runMigrate,
	}
}

func (c *cli) runMigrate(cmd *cobra.Command, args []string) error {
	store, err := c.openStore(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer store.Close()

	pg, ok := store.(*repository.PostgresStore)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "storage driver %q has no schema\n", c.cfg.Storage.Driver)
		return nil
	}
	applied, err := pg.AppliedMigrations(cmd.Context())
	if err != nil {
		return err
	}
	if c.jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string][]string{"applied": applied})
	}
	for _, v := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}
