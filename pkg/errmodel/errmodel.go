// Package errmodel defines the compact, categorised error used across the store.
//
// Configuration errors are returned while a store is being built. Dispatch
// errors mark broken programming contracts and are raised as panics. Listener
// errors describe recovered notification failures. Validation errors describe
// rejected input (action payloads, inspector requests).
package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	CategoryConfiguration = "configuration"
	CategoryDispatch      = "dispatch"
	CategoryListener      = "listener"
	CategoryValidation    = "validation"
	CategorySystem        = "system"
)

// Codes shared by several packages.
const (
	CodeEmptyReducers     = "empty_reducers"
	CodeNilReducer        = "nil_reducer"
	CodeEmptyKey          = "empty_key"
	CodeDuplicateKey      = "duplicate_key"
	CodeNilArgument       = "nil_argument"
	CodeNilMiddleware     = "nil_middleware"
	CodeReentrantDispatch = "reentrant_dispatch"
	CodePanic             = "panic"
	CodeListenerPanic     = "listener_panic"
	CodeInvalidPayload    = "invalid_payload"
	CodeInvalidSchema     = "invalid_schema"
	CodeNotFound          = "not_found"
	CodeBadRequest        = "bad_request"
)

// Error is the compact error payload used internally and by the inspector API.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Category + "/" + e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Configuration reports an invalid store setup.
func Configuration(code, message string, ctx map[string]any) *Error {
	return New(CategoryConfiguration, code, message, ctx)
}

// Dispatch reports a violated dispatch contract.
func Dispatch(code, message string, ctx map[string]any) *Error {
	return New(CategoryDispatch, code, message, ctx)
}

// Listener reports a failed notification.
func Listener(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategoryListener, code, message, ctx, cause)
	}
	return New(CategoryListener, code, message, ctx)
}

func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// Is reports whether err is a compact error with the given category and code.
// An empty code matches any code of the category.
func Is(err error, category, code string) bool {
	var ce *Error
	if !errors.As(err, &ce) || ce == nil {
		return false
	}
	if !strings.EqualFold(ce.Category, category) {
		return false
	}
	return code == "" || ce.Code == code
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

// HTTPStatus maps category/code to HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation:
		switch e.Code {
		case CodeNotFound:
			return http.StatusNotFound
		default:
			return http.StatusBadRequest
		}
	case CategoryDispatch:
		return http.StatusConflict
	case CategoryConfiguration, CategoryListener, CategorySystem:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes a compact error envelope to the response writer.
// It attempts to include the trace_id if present in the request context.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	status := HTTPStatus(ce)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	traceID := ""
	if r != nil {
		sc := trace.SpanFromContext(r.Context()).SpanContext()
		if sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    ce,
		"trace_id": traceID,
	})
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case bool, int, int64, float64:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}
