package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

// Envelope is the body of every JSON response under /api/v1.
type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

// WriteError derives the machine code from status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteFieldError(w, r, status, "", "", msg)
}

// WriteFieldError reports a failure tied to one request field. Empty code
// falls back to the status derived one.
func WriteFieldError(w http.ResponseWriter, r *http.Request, status int, code, field, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if code == "" {
		code = codeFromStatus(status)
	}
	write(w, r, status, Envelope{
		Error: &ErrorPayload{Code: code, Message: msg, Field: field},
	})
}

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.Meta.RequestID = middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
