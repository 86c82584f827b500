package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/invoicehub/mirror/internal/engine"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/files"
	"github.com/invoicehub/mirror/internal/utils"
	"github.com/spf13/cobra"
)

var errRunFailed = errors.New("run did not complete")

func newSyncCmd(c *cli) *cobra.Command {
	var categories []string

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror remote records into the local database",
	}
	syncCmd.PersistentFlags().StringSliceVar(&categories, "files", nil, "after syncing, download files for these categories (or \"all\")")

	// afterSync downloads the requested file categories once data is in place.
	afterSync := func(ctx context.Context, a *app, p printer) error {
		if len(categories) == 0 {
			return nil
		}
		cats, err := parseCategories(categories)
		if err != nil {
			return err
		}
		syncer, err := a.fileSyncer(ctx)
		if err != nil {
			return err
		}
		for _, cat := range cats {
			res, err := syncer.SyncFilesByCategory(ctx, cat, 0, "")
			if err != nil {
				return err
			}
			if err := p.filesResult(res); err != nil {
				return err
			}
		}
		return nil
	}

	syncCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Sync every entity type in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				res := a.engine.SyncAll(ctx)
				if err := p.syncResult(res); err != nil {
					return err
				}
				if !res.Success {
					return errRunFailed
				}
				return afterSync(ctx, a, p)
			})
		},
	})

	syncCmd.AddCommand(&cobra.Command{
		Use:   "type <type>",
		Short: "Sync one whole entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entity.ParseType(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				if err := p.typeResult(a.engine.SyncEntityType(ctx, t)); err != nil {
					return err
				}
				return afterSync(ctx, a, p)
			})
		},
	})

	syncCmd.AddCommand(newSyncInvoicesCmd(c, afterSync))
	syncCmd.AddCommand(newSyncIDsCmd(c, afterSync))
	return syncCmd
}

func newSyncInvoicesCmd(c *cli, afterSync func(context.Context, *app, printer) error) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Sync invoices modified in a window together with their related records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := utils.ParseWindowBound(from, false)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toT, err := utils.ParseWindowBound(to, true)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				res := a.engine.SyncInvoicesModifiedBetween(ctx, fromT, toT)
				if err := p.invoiceResult(res); err != nil {
					return err
				}
				if !res.Success {
					return errRunFailed
				}
				return afterSync(ctx, a, p)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC 3339 or YYYY-MM-DD (default unbounded)")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC 3339 or YYYY-MM-DD for the whole day (default unbounded)")
	return cmd
}

func newSyncIDsCmd(c *cli, afterSync func(context.Context, *app, printer) error) *cobra.Command {
	return &cobra.Command{
		Use:   "ids <candidates.json|->",
		Short: "Sync only the listed records that are missing locally or newer remotely",
		Long: `Reads a JSON array of {"type", "id", "remote_modified_at"} objects from
a file, or from stdin when the argument is "-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := readCandidates(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app, p printer) error {
				res := a.engine.SyncByIDs(ctx, candidates)
				if err := p.idResult(res); err != nil {
					return err
				}
				if !res.Success {
					return errRunFailed
				}
				return afterSync(ctx, a, p)
			})
		},
	}
}

func readCandidates(stdin io.Reader, path string) ([]engine.Candidate, error) {
	data, err := readInput(stdin, path)
	if err != nil {
		return nil, err
	}

	var candidates []engine.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	for i := range candidates {
		t, err := entity.ParseType(candidates[i].Type.String())
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		candidates[i].Type = t
	}
	return candidates, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func parseCategories(names []string) ([]files.Category, error) {
	var cats []files.Category
	for _, name := range names {
		if name == "all" {
			return files.Categories(), nil
		}
		cat, err := files.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		cats = append(cats, cat)
	}
	return cats, nil
}
