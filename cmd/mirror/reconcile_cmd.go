package main

import (
	"context"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/spf13/cobra"
)

func newReconcileCmd(c *cli) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile <type>",
		Short: "Delete local rows whose remote record no longer exists",
		Long: `Compares the complete remote id set of an allow-listed type with the
local rows and deletes the ones missing remotely. Refuses to delete anything
when the remote listing could not be fetched completely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entity.ParseType(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				res, err := a.engine.ReconcileReport(ctx, t, dryRun)
				if err != nil {
					return err
				}
				return p.reconcileResult(res)
			})
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only list the rows that would be deleted")
	return cmd
}
