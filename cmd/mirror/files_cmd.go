package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newFilesCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "files <category...|all>",
		Short: "Download documents referenced by mirrored rows into the file backend",
		Long: `Categories: invoice_pdfs, payment_receipts, registration_documents.
Files already present in the backend are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := parseCategories(args)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				syncer, err := a.fileSyncer(ctx)
				if err != nil {
					return err
				}
				for _, cat := range cats {
					res, err := syncer.SyncFilesByCategory(ctx, cat, limit, "")
					if err != nil {
						return err
					}
					if err := p.filesResult(res); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "rows per category to look at (0 means all)")
	return cmd
}
