package apierr

import "fmt"

// HTTPError represents a non-401 error response from the API. The status and
// body are surfaced to the caller untouched; the client never retries these.
type HTTPError struct {
	StatusCode int
	Body       string
}

func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api responded with status %d: %s", e.StatusCode, e.Body)
}
