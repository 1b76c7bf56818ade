package matrix

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// Result is the outcome of a request the homeserver answered with something other than
// 429. Body holds the raw JSON; Error is set when the body was a Matrix error.
type Result struct {
	OK         bool
	StatusCode int
	Body       json.RawMessage
	Error      *MatrixError
}

func newResult(status int, body []byte) *Result {
	res := &Result{
		OK:         status >= http.StatusOK && status < http.StatusMultipleChoices,
		StatusCode: status,
	}
	if json.Valid(body) {
		res.Body = body
	}
	if !res.OK && res.Body != nil {
		var merr MatrixError
		if err := json.Unmarshal(res.Body, &merr); err == nil && merr.ErrCode != "" {
			merr.StatusCode = status
			res.Error = &merr
		}
	}
	return res
}

// Decode unmarshals the body into v.
func (r *Result) Decode(v any) error {
	if r.Body == nil {
		return errors.New("response has no JSON body")
	}
	return errors.Wrap(json.Unmarshal(r.Body, v), "failed to decode response")
}

// Err is nil for a successful result, the Matrix error when there is one and an
// *HTTPError otherwise.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	return &HTTPError{Result: r}
}
