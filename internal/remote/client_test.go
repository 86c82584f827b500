package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/invoicehub/mirror/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollection serves n records of one type, failing the page that
// starts at failAt (if >= 0).
func fakeCollection(t *testing.T, n, failAt int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/obj/Invoice", r.URL.Path)

		cursor, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if cursor == failAt {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream unavailable")
			return
		}

		results := []map[string]any{}
		for i := cursor; i < n && i < cursor+limit; i++ {
			results = append(results, map[string]any{
				"_id":           fmt.Sprintf("id-%d", i),
				"Modified Date": "2025-01-01T00:00:00.000Z",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"cursor":    cursor,
				"results":   results,
				"remaining": max(0, n-cursor-len(results)),
				"count":     len(results),
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, url string, pageSize int) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, Token: "secret", PageSize: pageSize, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoBaseURL)

	_, err = New(Config{BaseURL: "not a url"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "https://example.com/api/1.1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, c.pageSize)
}

func TestTypeName(t *testing.T) {
	c, err := New(Config{
		BaseURL:   "https://example.com",
		TypeNames: map[entity.Type]string{entity.LineItem: "Invoice Line"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Invoice", c.TypeName(entity.Invoice))
	assert.Equal(t, "SubmittedPayment", c.TypeName(entity.SubmittedPayment))
	assert.Equal(t, "Invoice Line", c.TypeName(entity.LineItem))
}

func TestFetchAll_Paginates(t *testing.T) {
	srv, calls := fakeCollection(t, 25, -1)
	c := newTestClient(t, srv.URL, 10)

	col, err := c.FetchAll(context.Background(), entity.Invoice, nil)
	require.NoError(t, err)
	assert.False(t, col.Partial)
	assert.NoError(t, col.Err)
	assert.Len(t, col.Records, 25)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "id-24", col.Records[24].ID())

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Requests)
	assert.Zero(t, stats.Failures)
}

func TestFetchAll_HaltsOnErrorWithPartial(t *testing.T) {
	srv, calls := fakeCollection(t, 25, 10)
	c := newTestClient(t, srv.URL, 10)

	col, err := c.FetchAll(context.Background(), entity.Invoice, nil)
	require.NoError(t, err)
	assert.True(t, col.Partial)
	assert.Len(t, col.Records, 10)
	assert.Equal(t, int32(2), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, col.Err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Temporary())
}

func TestFetchAll_CancelledContext(t *testing.T) {
	srv, calls := fakeCollection(t, 25, -1)
	c := newTestClient(t, srv.URL, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	col, err := c.FetchAll(ctx, entity.Invoice, nil)
	require.NoError(t, err)
	assert.True(t, col.Partial)
	assert.ErrorIs(t, col.Err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestFetchAll_CancelDuringPageKeepsThatPage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":{"cursor":0,"results":[{"_id":"a"},{"_id":"b"}],"remaining":5,"count":2}}`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, 2)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	col, err := c.FetchAll(ctx, entity.Invoice, nil)
	require.NoError(t, err)
	assert.True(t, col.Partial)
	assert.ErrorIs(t, col.Err, context.Canceled)
	require.Len(t, col.Records, 2)
	assert.Equal(t, "a", col.Records[0].ID())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAll_RejectsSystemFieldConstraint(t *testing.T) {
	srv, calls := fakeCollection(t, 1, -1)
	c := newTestClient(t, srv.URL, 10)

	_, err := c.FetchAll(context.Background(), entity.Invoice, []Constraint{Equals(FieldModifiedDate, "x")})
	assert.ErrorIs(t, err, ErrSystemFieldConstraint)
	assert.Zero(t, calls.Load())
}

func TestFetchPage_SendsConstraints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got []Constraint
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("constraints")), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "Status", got[0].Key)
		assert.Equal(t, "equals", got[0].Type)
		fmt.Fprint(w, `{"response":{"cursor":0,"results":[{"_id":"a"}],"remaining":0,"count":1}}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 10)

	page, err := c.FetchPage(context.Background(), entity.Invoice, 0, 10, []Constraint{Equals("Status", "paid")})
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Equal(t, 0, page.Remaining)
}

func TestFetchByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/obj/Customer/c1":
			fmt.Fprint(w, `{"response":{"_id":"c1","Name":"Ada"}}`)
		case "/obj/Customer/gone":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"statusCode":404,"body":{"status":"MISSING_DATA","message":"Missing object"}}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"statusCode":401,"body":{"status":"UNAUTHORIZED","message":"bad token"}}`)
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 10)

	rec, err := c.FetchByID(context.Background(), entity.Customer, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", rec.ID())
	assert.Equal(t, "Ada", rec["Name"])

	_, err = c.FetchByID(context.Background(), entity.Customer, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchByID(context.Background(), entity.Customer, "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Status)
	assert.Equal(t, "bad token", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestFetchIDs(t *testing.T) {
	srv, _ := fakeCollection(t, 12, -1)
	c := newTestClient(t, srv.URL, 5)

	set, err := c.FetchIDs(context.Background(), entity.Invoice)
	require.NoError(t, err)
	assert.False(t, set.Partial)
	assert.Len(t, set.IDs, 12)
	assert.Contains(t, set.IDs, "id-11")
}

func TestFetchIDs_ProjectionAndPartial(t *testing.T) {
	var fields []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields = append(fields, r.URL.Query().Get("fields"))
		if r.URL.Query().Get("cursor") != "0" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":{"cursor":0,"results":[{"_id":"a"},{"_id":"b"}],"remaining":3,"count":2}}`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL, 2)

	set, err := c.FetchIDs(context.Background(), entity.SubmittedPayment)
	require.NoError(t, err)
	assert.True(t, set.Partial)
	assert.Error(t, set.Err)
	assert.Equal(t, []string{"a", "b"}, set.IDs)
	assert.Equal(t, []string{"_id", "_id"}, fields)
}

func TestFilterModifiedBetween(t *testing.T) {
	records := []Record{
		{"_id": "a", "Modified Date": "2025-01-01T00:00:00Z"},
		{"_id": "b", "Modified Date": "2025-02-01T00:00:00Z"},
		{"_id": "c", "Modified Date": "2025-03-01T00:00:00Z"},
		{"_id": "d"},
	}
	from := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	got := FilterModifiedBetween(records, from, to)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID())
	assert.Equal(t, "c", got[1].ID())

	assert.Len(t, FilterModifiedBetween(records, time.Time{}, time.Time{}), 3)
}

func TestFilterModifiedBetween_SharesMapperTimestampRules(t *testing.T) {
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{"_id": "epoch", "Modified Date": float64(feb.UnixMilli())},
		{"_id": "spaced", "Modified Date": "2025-02-01 00:00:00"},
		{"_id": "junk", "Modified Date": "soon"},
	}

	got := FilterModifiedBetween(records, feb.Add(-time.Hour), feb.Add(time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, "epoch", got[0].ID())
	assert.Equal(t, "spaced", got[1].ID())
}
