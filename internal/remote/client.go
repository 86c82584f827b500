// Package remote is the single client for the record API. Collections are
// read with cursor pagination and single records by identifier.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/imroc/req/v3"
	"github.com/invoicehub/mirror/internal/entity"
	"github.com/invoicehub/mirror/internal/utils"
	"github.com/invoicehub/mirror/internal/version"
)

const (
	DefaultPageSize = 100
	DefaultTimeout  = 30 * time.Second

	// the API never returns more than this per page
	maxPageSize = 100

	pathCollection = "/obj/{type}"
	pathRecord     = "/obj/{type}/{id}"
)

type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	Timeout  time.Duration
	// TypeNames overrides the remote collection name of an entity type
	TypeNames map[entity.Type]string
}

// Client is safe for concurrent use.
type Client struct {
	client    *req.Client
	pageSize  int
	typeNames map[entity.Type]string
	stats     *httpStats
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if !utils.IsValidURL(cfg.BaseURL) {
		return nil, fmt.Errorf("remote: invalid base url %q", utils.MaskURL(cfg.BaseURL))
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	stats := newHTTPStats()
	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonErrorResult(&errorBody{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		OnAfterResponse(stats.observe)

	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}

	slog.Debug("remote client", "url", utils.MaskURL(cfg.BaseURL), "token", utils.MaskSecret(cfg.Token), "pageSize", cfg.PageSize, "timeout", cfg.Timeout)

	return &Client{
		client:    client,
		pageSize:  cfg.PageSize,
		typeNames: cfg.TypeNames,
		stats:     stats,
	}, nil
}

// TypeName returns the collection name used in URLs for t.
func (c *Client) TypeName(t entity.Type) string {
	if name, ok := c.typeNames[t]; ok && name != "" {
		return name
	}
	return camelCase(string(t))
}

func (c *Client) Stats() StatsSnapshot {
	return c.stats.snapshot()
}

// FetchPage reads one page starting at cursor.
func (c *Client) FetchPage(ctx context.Context, t entity.Type, cursor, limit int, constraints []Constraint) (*Page, error) {
	return c.fetchPage(ctx, t, cursor, limit, constraints, "")
}

func (c *Client) fetchPage(ctx context.Context, t entity.Type, cursor, limit int, constraints []Constraint, fields string) (*Page, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = c.pageSize
	}

	r := c.client.R().
		SetContext(ctx).
		SetPathParam("type", c.TypeName(t)).
		SetQueryParam("cursor", strconv.Itoa(cursor)).
		SetQueryParam("limit", strconv.Itoa(limit))

	if fields != "" {
		r.SetQueryParam("fields", fields)
	}

	if len(constraints) > 0 {
		if err := validateConstraints(constraints); err != nil {
			return nil, err
		}
		raw, err := jsonMarshal(constraints)
		if err != nil {
			return nil, fmt.Errorf("remote: encode constraints: %w", err)
		}
		r.SetQueryParam("constraints", string(raw))
	}

	var env pageEnvelope
	res, err := r.SetSuccessResult(&env).Get(pathCollection)
	if err := handleAPIError(res, err, "fetch page "+string(t)); err != nil {
		return nil, err
	}

	return &env.Response, nil
}

// paginate walks a collection page by page and hands each page to visit.
// A nil return means the walk reached the end. ErrUnknownType is returned
// before any request; any other error is the reason the walk halted early.
// Cancelling ctx stops the walk before the next page; a page already
// requested is still read and visited.
func (c *Client) paginate(ctx context.Context, t entity.Type, constraints []Constraint, fields string, visit func([]Record)) error {
	cursor := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := c.fetchPage(context.WithoutCancel(ctx), t, cursor, c.pageSize, constraints, fields)
		if err != nil {
			if !errors.Is(err, ErrUnknownType) {
				slog.Warn("remote pagination halted", "type", t, "cursor", cursor, "error", err)
			}
			return err
		}

		visit(page.Results)
		cursor += len(page.Results)

		if page.Remaining <= 0 || len(page.Results) == 0 {
			return nil
		}
	}
}

// FetchAll paginates a whole collection. A failing page halts the loop and
// the records read so far come back with Partial set; the error is returned
// only for invalid input.
func (c *Client) FetchAll(ctx context.Context, t entity.Type, constraints []Constraint) (*Collection, error) {
	if err := validateConstraints(constraints); err != nil {
		return nil, err
	}

	col := &Collection{}
	err := c.paginate(ctx, t, constraints, "", func(records []Record) {
		col.Records = append(col.Records, records...)
	})
	if errors.Is(err, ErrUnknownType) {
		return nil, err
	}
	col.Partial, col.Err = err != nil, err

	slog.Debug("remote fetch all", "type", t, "records", len(col.Records), "partial", col.Partial)
	return col, nil
}

// FetchByID reads one record. A missing record wraps ErrNotFound.
func (c *Client) FetchByID(ctx context.Context, t entity.Type, id string) (Record, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if id == "" {
		return nil, fmt.Errorf("fetch %s: empty id: %w", t, ErrNotFound)
	}

	var env recordEnvelope
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"type": c.TypeName(t),
			"id":   id,
		}).
		SetSuccessResult(&env).
		Get(pathRecord)

	if err := handleAPIError(res, err, fmt.Sprintf("fetch %s %s", t, id)); err != nil {
		return nil, err
	}
	if env.Response == nil {
		return nil, fmt.Errorf("fetch %s %s: empty response: %w", t, id, ErrNotFound)
	}
	if env.Response.ID() == "" {
		env.Response[FieldID] = id
	}

	return env.Response, nil
}

// FetchIDs lists the identifiers of a collection. Pages are requested with
// an _id field projection and only the identifiers are retained, so servers
// that ignore the hint cost bandwidth but not memory.
func (c *Client) FetchIDs(ctx context.Context, t entity.Type) (*IDSet, error) {
	set := &IDSet{}
	err := c.paginate(ctx, t, nil, FieldID, func(records []Record) {
		for _, r := range records {
			if id := r.ID(); id != "" {
				set.IDs = append(set.IDs, id)
			}
		}
	})
	if errors.Is(err, ErrUnknownType) {
		return nil, err
	}
	set.Partial, set.Err = err != nil, err

	slog.Debug("remote fetch ids", "type", t, "ids", len(set.IDs), "partial", set.Partial)
	return set, nil
}

// FilterModifiedBetween keeps records whose last-modified time lies within
// [from, to]. A zero bound is open. Records without a parseable timestamp
// are dropped.
func FilterModifiedBetween(records []Record, from, to time.Time) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		m, ok := r.ModifiedAt()
		if !ok {
			continue
		}
		if !from.IsZero() && m.Before(from) {
			continue
		}
		if !to.IsZero() && m.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

var systemFields = []string{FieldID, FieldCreatedDate, FieldModifiedDate}

func validateConstraints(constraints []Constraint) error {
	for _, c := range constraints {
		if slices.Contains(systemFields, c.Key) {
			return fmt.Errorf("%w: %q", ErrSystemFieldConstraint, c.Key)
		}
	}
	return nil
}

// camelCase turns "submitted_payment" into "SubmittedPayment"
func camelCase(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
