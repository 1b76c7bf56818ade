package matrix

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"maunium.net/go/mautrix"
)

// ErrClientClosed is returned by requests issued or still waiting after Close.
var ErrClientClosed = errors.New("matrix client is closed")

// MatrixError is the standard Matrix error body plus the HTTP status it arrived with.
//
//nolint:revive // MatrixError is clearer than Error for callers outside the package
type MatrixError struct {
	StatusCode   int    `json:"-"`
	ErrCode      string `json:"errcode"`
	Message      string `json:"error"`
	RetryAfterMs *int64 `json:"retry_after_ms,omitempty"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix error %d %s: %s", e.StatusCode, e.ErrCode, e.Message)
}

// NetworkError covers transport failures, timeouts and unreadable responses.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: failed to %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UserExclusiveError means the localpart is outside the appservice's exclusive namespace.
type UserExclusiveError struct {
	Localpart string
	Err       *MatrixError
}

func (e *UserExclusiveError) Error() string {
	return fmt.Sprintf("user %q is outside the appservice's exclusive namespace", e.Localpart)
}

func (e *UserExclusiveError) Unwrap() error { return e.Err }

// HTTPError is returned by getters for a non-2xx response without a Matrix error body.
type HTTPError struct {
	Result *Result
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Result.StatusCode)
}

// IsRateLimitError reports whether err is a Matrix 429 rate limit error.
func IsRateLimitError(err error) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.StatusCode == http.StatusTooManyRequests || matrixErr.ErrCode == mautrix.MLimitExceeded.ErrCode
	}
	return false
}

// IsNotFound reports whether err is a 404 or M_NOT_FOUND.
func IsNotFound(err error) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.StatusCode == http.StatusNotFound || matrixErr.ErrCode == mautrix.MNotFound.ErrCode
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Result.StatusCode == http.StatusNotFound
	}
	return false
}
