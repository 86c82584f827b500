package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/remote"
	"github.com/spf13/cobra"
)

func newUploadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <type> <records.json|->",
		Short: "Write a batch of records, rejecting the batch if the first record is malformed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entity.ParseType(args[0])
			if err != nil {
				return err
			}
			data, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			var records []remote.Record
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("records: %w", err)
			}

			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				res := a.engine.SyncWithValidation(ctx, t, records)
				if err := p.batchResult(res); err != nil {
					return err
				}
				if res.ValidationError != nil {
					return res.ValidationError
				}
				return nil
			})
		},
	}
}
