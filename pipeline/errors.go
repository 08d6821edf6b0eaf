package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmcleod/sessionkeeper/session"
)

const maxErrorBody = 4 << 10

// StatusError describes a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Err }

// CheckResponse returns nil for 2xx responses and a *StatusError
// otherwise. A 401 wraps session.ErrUnauthorized. The body is read for
// an error message but not closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return NewStatusError(resp, nil)
}

// NewStatusError builds a StatusError from resp, wrapping err. A nil err
// on a 401 becomes session.ErrUnauthorized.
func NewStatusError(resp *http.Response, err error) *StatusError {
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		err = session.ErrUnauthorized
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.Body),
		Err:        err,
	}
}

// errorMessage extracts {"message": ...} or {"error": ...} from a body,
// falling back to the trimmed text.
func errorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(data))
}
