// Package httputil writes JSON responses and maps domain error codes to HTTP
// statuses.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	dErrors "hustings/pkg/domain-errors"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string               `json:"error"`
	ErrorDescription string               `json:"error_description,omitempty"`
	Fields           []dErrors.FieldError `json:"fields,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeValidation:         http.StatusBadRequest,
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeInvariantViolation: http.StatusUnprocessableEntity,
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeForbidden:          http.StatusForbidden,
	dErrors.CodeAccessDenied:       http.StatusForbidden,
	dErrors.CodeTokenMismatch:      http.StatusForbidden,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeAlreadyVoted:       http.StatusConflict,
	dErrors.CodeAlreadyDecided:     http.StatusConflict,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
	dErrors.CodeRateLimited:        http.StatusTooManyRequests,
	dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
	dErrors.CodePartialCommit:      http.StatusInternalServerError,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a domain code.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a JSON envelope. Internal errors never expose
// their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodePartialCommit {
		resp.ErrorDescription = dErrors.MessageOf(err)
		resp.Fields = dErrors.FieldsOf(err)
	}
	WriteJSON(w, StatusFor(code), resp)
}

// DecodeJSON decodes a single JSON object from r into dst, rejecting unknown
// fields and trailing data. Unknown fields are reported as validation errors
// naming the field.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if field, ok := unknownField(err); ok {
			return dErrors.NewValidation(dErrors.FieldError{Field: field, Message: "unknown field"})
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return dErrors.NewValidation(dErrors.FieldError{Field: typeErr.Field, Message: "wrong type"})
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON object")
	}
	return nil
}

func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid "+name)
	}
	return v, nil
}
