package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bgunnarsson/crudgate/internal/crud"
	"github.com/bgunnarsson/crudgate/internal/db"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// errBodyTooLarge is returned for bodies over maxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, db.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, crud.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, db.ErrDiagnosticsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads exactly one JSON value from the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return bodyError(err, "request body is empty")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return bodyError(err, "unexpected data after JSON body")
	}
	return nil
}

func bodyError(err error, eofMsg string) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: limit is %d bytes", errBodyTooLarge, tooLarge.Limit)
	case err == nil, errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %s", db.ErrValidation, eofMsg)
	default:
		return fmt.Errorf("%w: malformed JSON body: %v", db.ErrValidation, err)
	}
}

// decodeFields reads a flat JSON object. Integral numbers become int64 and
// other numbers float64; nested objects and arrays are rejected.
func decodeFields(w http.ResponseWriter, r *http.Request) (db.Fields, error) {
	var raw map[string]any
	if err := decodeJSON(w, r, &raw); err != nil {
		return nil, err
	}

	fields := make(db.Fields, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case json.Number:
			if n, err := x.Int64(); err == nil {
				fields[k] = n
				continue
			}
			f, err := x.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", db.ErrValidation, k, err)
			}
			fields[k] = f
		case map[string]any, []any:
			return nil, fmt.Errorf("%w: field %q must be a scalar", db.ErrValidation, k)
		default:
			fields[k] = x
		}
	}
	return fields, nil
}
