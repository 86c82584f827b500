// Package files materializes documents referenced by mirrored rows (invoice
// PDFs, payment receipts, registration documents) into a storage backend.
package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/progress"
	"github.com/invoicehub/mirror/internal/utils"
	"github.com/invoicehub/mirror/internal/version"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownCategory = errors.New("files: unknown category")
	ErrUnsafeKey       = errors.New("files: unsafe object key")
)

type Category string

const (
	InvoicePDFs           Category = "invoice_pdfs"
	PaymentReceipts       Category = "payment_receipts"
	RegistrationDocuments Category = "registration_documents"
)

type source struct {
	Type   entity.Type
	Column string
}

var sources = map[Category]source{
	InvoicePDFs:           {entity.Invoice, "pdf_url"},
	PaymentReceipts:       {entity.Payment, "receipt_url"},
	RegistrationDocuments: {entity.Registration, "document_urls"},
}

// Categories lists every known category.
func Categories() []Category {
	return []Category{InvoicePDFs, PaymentReceipts, RegistrationDocuments}
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sources[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Result counts files per outcome. Skipped files already existed.
type Result struct {
	Category Category `json:"category"`
	Success  int      `json:"success"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Rows is the store capability the syncer reads from.
type Rows interface {
	List(ctx context.Context, t entity.Type, limit int) ([]*entity.Entity, error)
}

type job struct {
	RemoteID string
	URL      string
	Key      string
}

type Syncer struct {
	rows        Rows
	backend     Backend
	progress    *progress.Store
	client      *req.Client
	concurrency int
}

func NewSyncer(rows Rows, backend Backend, p *progress.Store, concurrency int) *Syncer {
	if concurrency <= 0 {
		concurrency = 4
	}
	client := req.C().
		SetTimeout(2 * time.Minute).
		SetUserAgent(version.UserAgent()).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(time.Second)

	return &Syncer{
		rows:        rows,
		backend:     backend,
		progress:    p,
		client:      client,
		concurrency: concurrency,
	}
}

// SyncFilesByCategory downloads the files referenced by up to limit rows of
// the category's type and stores the ones the backend does not have yet.
func (s *Syncer) SyncFilesByCategory(ctx context.Context, category Category, limit int, sessionID string) (*Result, error) {
	src, ok := sources[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	rows, err := s.rows.List(ctx, src.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("files: list %s: %w", src.Type, err)
	}

	res := &Result{Category: category}
	var jobs []job
	for _, row := range rows {
		for i, u := range urlsOf(row.Fields[src.Column]) {
			key, err := objectKey(category, row.RemoteID, u, i)
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, err.Error())
				slog.Warn("file skipped", "category", category, "id", row.RemoteID, "error", err)
				continue
			}
			jobs = append(jobs, job{RemoteID: row.RemoteID, URL: u, Key: key})
		}
	}

	if sessionID == "" {
		sessionID = s.progress.Create("files_" + string(category))
	}
	s.progress.Update(sessionID, progress.Patch{Total: len(jobs) + res.Failed, Processed: res.Failed, Errors: res.Failed, Category: "files_" + string(category)})

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			skipped, err := s.materialize(ctx, j)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", j.RemoteID, err))
				slog.Warn("file download", "category", category, "id", j.RemoteID, "url", utils.MaskURL(j.URL), "error", err)
				s.progress.Update(sessionID, progress.Patch{Processed: 1, Errors: 1})
			case skipped:
				res.Skipped++
				s.progress.Update(sessionID, progress.Patch{Processed: 1})
			default:
				res.Success++
				s.progress.Update(sessionID, progress.Patch{Processed: 1, CurrentItem: j.Key})
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		s.progress.Fail(sessionID, err)
		return res, err
	}
	s.progress.Complete(sessionID)
	slog.Info("files synced", "category", category, "backend", s.backend.Name(), "success", res.Success, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (s *Syncer) materialize(ctx context.Context, j job) (bool, error) {
	exists, err := s.backend.Exists(ctx, j.Key)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	resp, err := s.client.R().SetContext(ctx).Get(j.URL)
	if err != nil {
		return false, err
	}
	if !resp.IsSuccessState() {
		return false, fmt.Errorf("download: %s", resp.Status)
	}

	body := resp.Bytes()
	contentType := resp.GetContentType()
	if utils.IsGenericContentType(contentType) {
		contentType = utils.DetectContentType(j.Key, body)
	}
	return false, s.backend.Put(ctx, j.Key, body, contentType)
}

// urlsOf normalizes a URL column. File fields often hold protocol relative
// URLs ("//cdn.example.com/f.pdf").
func urlsOf(v any) []string {
	var raw []string
	switch x := v.(type) {
	case string:
		raw = []string{x}
	case []string:
		raw = x
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	out := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		if utils.IsValidURL(u) {
			out = append(out, u)
		}
	}
	return out
}

// objectKey builds "<category>/<remote id>/<index>-<file name>". A remote id
// that is not a single path element is refused.
func objectKey(category Category, remoteID, rawURL string, index int) (string, error) {
	if remoteID == "" || remoteID == "." || remoteID == ".." || strings.ContainsAny(remoteID, "/\\\x00") {
		return "", fmt.Errorf("%w: remote id %q", ErrUnsafeKey, remoteID)
	}
	name := "file"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
	return fmt.Sprintf("%s/%s/%d-%s", category, remoteID, index, name), nil
}
