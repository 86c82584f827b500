package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req/v3"
)

var (
	ErrNotFound              = errors.New("remote: record not found")
	ErrNoBaseURL             = errors.New("remote: base url missing")
	ErrSystemFieldConstraint = errors.New("remote: constraints on system fields are not supported")
	ErrUnknownType           = errors.New("remote: unknown entity type")
)

// errorBody is the error envelope returned by the record API.
type errorBody struct {
	StatusCode int `json:"statusCode"`
	Body       struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"body"`
}

// APIError is a non-2xx answer from the record API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("api error: %d %s - %s", e.StatusCode, e.Status, e.Message)
}

// Temporary reports whether re-running the operation later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if resp != nil && resp.Response != nil {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", operation, ErrNotFound)
		}

		// error bodies are not always JSON, so a decode failure is not the cause here
		if !resp.IsSuccessState() {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Status:     http.StatusText(resp.StatusCode),
			}
			if body, ok := resp.ErrorResult().(*errorBody); ok && body != nil {
				if body.Body.Status != "" {
					apiErr.Status = body.Body.Status
				}
				apiErr.Message = body.Body.Message
			}
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(truncate(resp.String(), 200))
			}
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
	}

	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
