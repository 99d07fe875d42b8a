package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bgunnarsson/crudgate/internal/db"
)

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/tables/{table}", func(r chi.Router) {
		r.Get("/", s.listRows)
		r.Post("/", s.createRow)
		r.Post("/verify-password", s.verifyPassword)
		r.Get("/{key}/{value}", s.getByKey)
		r.Put("/{key}/{value}", s.updateRow)
		r.Delete("/{key}/{value}", s.deleteRow)
	})

	r.Get("/api/diagnostics/connection", s.diagnostics)

	r.Route("/api/structures", func(r chi.Router) {
		r.Get("/database", s.databaseStructure)
		r.Get("/{table}/model", s.tableModel)
	})
}

type rowsResponse struct {
	Data  []db.Row `json:"data"`
	Total int      `json:"total"`
}

type modelResponse struct {
	Schema string      `json:"schema"`
	Data   []db.Column `json:"data"`
	Total  int         `json:"total"`
}

type createdResponse struct {
	Created bool `json:"created"`
}

type affectedResponse struct {
	Affected int64 `json:"affected"`
}

type verifyRequest struct {
	UserColumn     string `json:"user_column"`
	PasswordColumn string `json:"password_column"`
	User           any    `json:"user"`
	Password       string `json:"password"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// pathParam returns a decoded route parameter. chi matches on RawPath when
// it is set (the path holds escapes such as %2F), leaving them in the value.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	v, err := url.PathUnescape(v)
	if err != nil {
		return "", fmt.Errorf("%w: bad %s in path: %v", db.ErrValidation, name, err)
	}
	return v, nil
}

func tableRef(r *http.Request) (db.TableRef, error) {
	name, err := pathParam(r, "table")
	if err != nil {
		return db.TableRef{}, err
	}
	return db.TableRef{Schema: r.URL.Query().Get("schema"), Name: name}, nil
}

// keyedRef is tableRef plus the {key}/{value} segments.
func keyedRef(r *http.Request) (ref db.TableRef, key, value string, err error) {
	if ref, err = tableRef(r); err != nil {
		return
	}
	if key, err = pathParam(r, "key"); err != nil {
		return
	}
	value, err = pathParam(r, "value")
	return
}

func (s *Server) listRows(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: limit must be an integer", db.ErrValidation))
			return
		}
		limit = n
	}

	ref, err := tableRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.svc.FetchRows(r.Context(), ref, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Data: rows, Total: len(rows)})
}

func (s *Server) getByKey(w http.ResponseWriter, r *http.Request) {
	ref, key, value, err := keyedRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.svc.FetchByKey(r.Context(), ref, key, value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no rows matched")
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Data: rows, Total: len(rows)})
}

func (s *Server) createRow(w http.ResponseWriter, r *http.Request) {
	ref, err := tableRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fields, err := decodeFields(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ok, err := s.svc.Create(r.Context(), ref, fields, r.URL.Query().Get("encrypt"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !ok {
		status = http.StatusOK
	}
	writeJSON(w, status, createdResponse{Created: ok})
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	ref, key, value, err := keyedRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fields, err := decodeFields(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	n, err := s.svc.Update(r.Context(), ref, key, value, fields, r.URL.Query().Get("encrypt"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeAffected(w, n)
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	ref, key, value, err := keyedRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.svc.Delete(r.Context(), ref, key, value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeAffected(w, n)
}

func writeAffected(w http.ResponseWriter, n int64) {
	if n == 0 {
		writeJSON(w, http.StatusNotFound, affectedResponse{})
		return
	}
	writeJSON(w, http.StatusOK, affectedResponse{Affected: n})
}

func (s *Server) verifyPassword(w http.ResponseWriter, r *http.Request) {
	ref, err := tableRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ok, err := s.svc.VerifyPassword(r.Context(), ref, req.UserColumn, req.PasswordColumn, req.User, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: ok})
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Diagnostics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) tableModel(w http.ResponseWriter, r *http.Request) {
	table, err := pathParam(r, "table")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	schema, cols, found, err := s.svc.TableModel(r.Context(), table, r.URL.Query().Get("schema"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("table %q was not found in any schema", table))
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{Schema: schema, Data: cols, Total: len(cols)})
}

func (s *Server) databaseStructure(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.DatabaseStructure(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
