package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/invoicehub/mirror/internal/engine"
	"github.com/invoicehub/mirror/internal/files"
)

// printer renders command results either as text or as indented JSON.
type printer struct {
	w    io.Writer
	json bool
}

func (p printer) result(v any, text func()) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func (p printer) status(ok bool, label string) {
	mark := green("✔")
	if !ok {
		mark = red("✘")
	}
	fmt.Fprintf(p.w, "%s %s\n", mark, bold(label))
}

func (p printer) counts(label string, c engine.Counts) {
	fmt.Fprintf(p.w, "  %-20s fetched %s  inserted %s  updated %s  merged %s  skipped %s",
		cyan(label),
		humanize.Comma(int64(c.Fetched)),
		green(humanize.Comma(int64(c.Inserted))),
		green(humanize.Comma(int64(c.Updated))),
		green(humanize.Comma(int64(c.Merged))),
		humanize.Comma(int64(c.Skipped)),
	)
	if c.Failed > 0 {
		fmt.Fprintf(p.w, "  failed %s", red(humanize.Comma(int64(c.Failed))))
	}
	fmt.Fprintln(p.w)
}

func (p printer) errors(errs []*engine.SyncError) {
	const shown = 10
	for i, err := range errs {
		if i == shown {
			fmt.Fprintf(p.w, "  %s\n", yellow(fmt.Sprintf("... and %d more errors", len(errs)-shown)))
			break
		}
		fmt.Fprintf(p.w, "  %s %s\n", red(string(err.Kind)), err.Error())
	}
}

func (p printer) took(d time.Duration) {
	fmt.Fprintf(p.w, "  took %s\n", d.Round(time.Millisecond))
}

func (p printer) syncResult(res *engine.SyncResult) error {
	return p.result(res, func() {
		p.status(res.Success, "sync all")
		for _, tr := range res.Types {
			p.counts(tr.Type.String(), tr.Counts)
			if tr.Partial {
				fmt.Fprintf(p.w, "  %s\n", yellow(tr.Type.String()+": remote listing incomplete"))
			}
		}
		p.errors(res.Errors)
		p.took(res.Duration)
	})
}

func (p printer) typeResult(res *engine.TypeResult) error {
	return p.result(res, func() {
		p.status(len(res.Errors) == 0 && !res.Partial, "sync "+res.Type.String()+" ("+res.Strategy+")")
		p.counts(res.Type.String(), res.Counts)
		p.errors(res.Errors)
		p.took(res.Duration)
	})
}

func (p printer) invoiceResult(res *engine.InvoiceSyncResult) error {
	return p.result(res, func() {
		p.status(res.Success, "sync invoices")
		fmt.Fprintf(p.w, "  considered %s  needed sync %s\n", humanize.Comma(int64(res.Considered)), humanize.Comma(int64(res.NeedsSync)))
		p.counts("invoices", res.Roots)
		p.counts("relations", res.Relations)
		p.counts("templates", res.Templates)
		p.errors(res.Errors)
		p.took(res.Duration)
	})
}

func (p printer) idResult(res *engine.IDSyncResult) error {
	return p.result(res, func() {
		p.status(res.Success, "sync ids")
		fmt.Fprintf(p.w, "  synced %s  skipped %s\n", green(humanize.Comma(int64(res.Synced))), humanize.Comma(int64(res.Skipped)))
		p.errors(res.Errors)
	})
}

func (p printer) batchResult(res *engine.BatchResult) error {
	return p.result(res, func() {
		p.status(res.Success, "upload")
		if res.ValidationError != nil {
			fmt.Fprintf(p.w, "  %s %s\n", red("rejected:"), res.ValidationError.Error())
		}
		fmt.Fprintf(p.w, "  processed %s  synced %s  skipped %s\n",
			humanize.Comma(int64(res.Processed)), green(humanize.Comma(int64(res.Synced))), humanize.Comma(int64(res.Skipped)))
		p.errors(res.Errors)
	})
}

func (p printer) reconcileResult(res *engine.ReconcileResult) error {
	return p.result(res, func() {
		verb := "deleted"
		if res.DryRun {
			verb = "would delete"
		}
		p.status(true, "reconcile "+res.Type.String())
		fmt.Fprintf(p.w, "  remote %s  local %s  %s %s\n",
			humanize.Comma(int64(res.Remote)), humanize.Comma(int64(res.Local)), verb, yellow(humanize.Comma(int64(len(res.Deleted)))))
		for _, id := range res.Deleted {
			fmt.Fprintf(p.w, "    %s\n", id)
		}
	})
}

func (p printer) filesResult(res *files.Result) error {
	return p.result(res, func() {
		p.status(res.Failed == 0, "files "+string(res.Category))
		fmt.Fprintf(p.w, "  stored %s  existing %s  failed %s\n",
			green(humanize.Comma(int64(res.Success))), humanize.Comma(int64(res.Skipped)), red(humanize.Comma(int64(res.Failed))))
		for _, e := range res.Errors {
			fmt.Fprintf(p.w, "    %s\n", e)
		}
	})
}
