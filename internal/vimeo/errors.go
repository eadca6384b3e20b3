package vimeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultRetryAfter is used when a 429 response carries no usable hint.
const defaultRetryAfter = 5 * time.Second

// NetworkError represents transport failures and unexpected API responses.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "list_videos", "fetch_media")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request may succeed: connection
// level failures, timeouts and 5xx responses.
func (e *NetworkError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// RateLimitError is returned for HTTP 429 responses.
type RateLimitError struct {
	Operation string
	After     time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited during %s, retry after %s", e.Operation, e.After)
}

// RetryAfter exposes the server-supplied delay to the retry policy.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.After
}

// AuthenticationError represents 401 Unauthorized and 403 Forbidden
// responses. A token without the required scopes cannot be fixed mid-run.
type AuthenticationError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s (HTTP %d): check the token and its public, private and video_files scopes", e.Operation, e.StatusCode)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is or wraps an AuthenticationError.
func IsAuthError(err error) bool {
	var authErr *AuthenticationError

	return errors.As(err, &authErr)
}

// Retryable is the retry predicate shared by listing and media calls.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Temporary()
	}

	return false
}

// CheckResponse maps a non-success response to a typed error. ok lists the
// status codes accepted by the caller; when empty only 200 is accepted.
func CheckResponse(resp *http.Response, operation string, ok ...int) error {
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}

	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{Operation: operation, StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		return &RateLimitError{Operation: operation, After: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}

	return &NetworkError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		APIMessage: readAPIMessage(resp.Body),
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date values.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultRetryAfter
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 1 {
			secs = 1
		}

		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}

		return time.Second
	}

	return defaultRetryAfter
}

func readAPIMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	b, _ := io.ReadAll(io.LimitReader(body, 4096))

	var apiErr struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(b, &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}

	return strings.TrimSpace(string(b))
}
