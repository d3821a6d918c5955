package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRetryExhausted indicates the API kept throttling past the retry budget.
	ErrRetryExhausted = errors.New("retry limit exhausted")

	// ErrPermission indicates the request was rejected for missing
	// permissions or licensing rather than a transient condition.
	ErrPermission = errors.New("permission denied")
)

// APIError is a non-2xx response from Graph or the Defender API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Status, truncateBody(e.Body))
}

// throttleError marks a response as a throttling rejection. retryAfter is
// the server's Retry-After hint, zero when the header was absent.
type throttleError struct {
	retryAfter time.Duration
	apiErr     *APIError
}

func (e *throttleError) Error() string {
	return fmt.Sprintf("request throttled: %v", e.apiErr)
}

// IsPermission reports whether err is a permission or licensing rejection.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// PermissionHint returns a user-facing hint for permission failures, or ""
// for any other error.
func PermissionHint(err error) string {
	if !IsPermission(err) {
		return ""
	}
	return "the signed-in identity lacks a required Graph permission or license (some endpoints need Entra ID P2)"
}

func isThrottleBody(body string) bool {
	return strings.Contains(strings.ToLower(body), "throttl")
}

func isPermissionBody(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"license", "forbidden", "permission"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		return body[:512] + "..."
	}
	return body
}
