package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

var exposeInternal atomic.Bool

// SetExposeInternal controls whether 500 responses carry the underlying
// error text. Only enable it in development.
func SetExposeInternal(v bool) { exposeInternal.Store(v) }

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			slog.Error("encode response", "error", err)
			http.Error(w, `{"error":"InternalServerError","message":"encode_error"}`, http.StatusInternalServerError)
			return
		}
	} else {
		body = []byte("null")
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func NoContent(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }

func JSONError(w http.ResponseWriter, status int, kind Kind, msg string, details any) {
	JSON(w, status, ErrorResponse{Error: string(kind), Message: msg, Details: details})
}

// WriteError renders err using the error envelope. Errors that are not an
// *Error become a 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal(err)
	}
	msg := e.Message
	if e.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if !exposeInternal.Load() {
			msg = "internal server error"
		} else if e.Err != nil {
			msg = e.Err.Error()
		}
	}
	JSONError(w, e.Status, e.Kind, msg, e.Details)
}

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to http.HandlerFunc, rendering any returned error.
func Handle(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			WriteError(w, r, err)
		}
	}
}

// DecodeJSON reads a JSON body into v. Malformed input is a ValidationError.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return Validation(map[string]string{"body": "required"})
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return Validation(map[string]string{"body": "required"})
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Validation(map[string]string{typeErr.Field: "invalid_type"})
		}
		return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: "malformed JSON body", Err: err}
	}
	return nil
}

// IsJSON reports whether the request declares a JSON body.
func IsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
