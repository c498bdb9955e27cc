// Package httputil provides JSON request and response helpers shared by the
// HTTP handlers and middleware.
package httputil

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/R3E-Network/subscription_layer/internal/errors"
)

// MaxBodyBytes bounds request bodies decoded by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Kind    errors.Kind    `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders err. Unclassified errors become an opaque 500 so internal
// messages never leak.
func WriteError(w http.ResponseWriter, err error) {
	se, ok := errors.As(err)
	switch {
	case ok:
	case stderrors.Is(err, context.DeadlineExceeded):
		se = errors.Transient("REQUEST_TIMEOUT", "request timed out", err)
	default:
		se = errors.Internal("internal error", err)
	}
	body := ErrorBody{Error: se.Message, Code: se.Code, Kind: se.Kind, Details: se.Details}
	if se.Kind == errors.KindRateLimited {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, errors.HTTPStatus(se), body)
}

// DecodeJSON decodes a bounded request body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func DecodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF && allowEmpty {
			return nil
		}
		return errors.Validation("INVALID_REQUEST_BODY", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
