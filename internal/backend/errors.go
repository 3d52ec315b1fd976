package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Classified backend failures. Every error returned by a Client wraps exactly one of them.
var (
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrNotFound     = errors.New("backend: not found")
	ErrConflict     = errors.New("backend: request rejected")
	ErrTransport    = errors.New("backend: transport failure")
)

// CallError carries the operation and HTTP details of a failed call.
type CallError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status > 0 {
		fmt.Fprintf(&b, ": http %d", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// Kind returns a short label for the wrapped classification.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "transport_failure"
	}
}

// DetailOf extracts the backend's human-readable detail, if any.
func DetailOf(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Detail
	}
	return ""
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrConflict
	default:
		return ErrTransport
	}
}

// errorDetail pulls "detail" out of a FastAPI-style error body.
func errorDetail(body []byte) string {
	var obj struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && len(obj.Detail) > 0 {
		var s string
		if err := json.Unmarshal(obj.Detail, &s); err == nil {
			return strings.TrimSpace(s)
		}
		return truncate(string(obj.Detail), 200)
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
