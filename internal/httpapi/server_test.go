package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/crudgate/internal/crud"
	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/testutil"
)

type call struct {
	op     string
	ref    db.TableRef
	key    string
	value  any
	limit  int
	fields db.Fields
	csv    string
}

type fakeService struct {
	calls []call

	rows      []db.Row
	created   bool
	affected  int64
	valid     bool
	schema    string
	cols      []db.Column
	found     bool
	structure db.DatabaseStructure
	diag      *db.Diagnostics
	err       error
	block     bool
}

func (f *fakeService) Dialect() db.Dialect { return db.DialectMySQL }

func (f *fakeService) FetchRows(ctx context.Context, ref db.TableRef, limit int) ([]db.Row, error) {
	f.calls = append(f.calls, call{op: "FetchRows", ref: ref, limit: limit})
	if f.block {
		<-ctx.Done()
		return nil, &db.DataAccessError{Dialect: db.DialectMySQL, Op: "fetch rows", Err: ctx.Err()}
	}
	return f.rows, f.err
}

func (f *fakeService) FetchByKey(_ context.Context, ref db.TableRef, key string, value any) ([]db.Row, error) {
	f.calls = append(f.calls, call{op: "FetchByKey", ref: ref, key: key, value: value})
	return f.rows, f.err
}

func (f *fakeService) Create(_ context.Context, ref db.TableRef, fields db.Fields, csv string) (bool, error) {
	f.calls = append(f.calls, call{op: "Create", ref: ref, fields: fields, csv: csv})
	return f.created, f.err
}

func (f *fakeService) Update(_ context.Context, ref db.TableRef, key string, value any, fields db.Fields, csv string) (int64, error) {
	f.calls = append(f.calls, call{op: "Update", ref: ref, key: key, value: value, fields: fields, csv: csv})
	return f.affected, f.err
}

func (f *fakeService) Delete(_ context.Context, ref db.TableRef, key string, value any) (int64, error) {
	f.calls = append(f.calls, call{op: "Delete", ref: ref, key: key, value: value})
	return f.affected, f.err
}

func (f *fakeService) VerifyPassword(_ context.Context, ref db.TableRef, userCol, passCol string, user any, _ string) (bool, error) {
	f.calls = append(f.calls, call{op: "VerifyPassword", ref: ref, key: userCol + "/" + passCol, value: user})
	return f.valid, f.err
}

func (f *fakeService) Diagnostics(context.Context) (*db.Diagnostics, error) {
	f.calls = append(f.calls, call{op: "Diagnostics"})
	return f.diag, f.err
}

func (f *fakeService) TableModel(_ context.Context, table, hint string) (string, []db.Column, bool, error) {
	f.calls = append(f.calls, call{op: "TableModel", ref: db.TableRef{Schema: hint, Name: table}})
	return f.schema, f.cols, f.found, f.err
}

func (f *fakeService) DatabaseStructure(context.Context) (db.DatabaseStructure, error) {
	f.calls = append(f.calls, call{op: "DatabaseStructure"})
	return f.structure, f.err
}

func newTestServer(t *testing.T, svc *fakeService, timeout time.Duration) http.Handler {
	t.Helper()
	return NewServer(Config{
		Service:      svc,
		QueryTimeout: timeout,
		Logger:       testutil.NewTestLogger(t),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestListRows(t *testing.T) {
	svc := &fakeService{rows: []db.Row{
		{Columns: []string{"id", "nombre"}, Values: []any{int64(1), "Widget"}},
	}}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodGet, "/api/tables/productos?schema=tienda&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"id":1,"nombre":"Widget"}],"total":1}`, rec.Body.String())

	require.Len(t, svc.calls, 1)
	assert.Equal(t, db.TableRef{Schema: "tienda", Name: "productos"}, svc.calls[0].ref)
	assert.Equal(t, 5, svc.calls[0].limit)
}

func TestListRowsBadLimit(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestServer(t, svc, 0), http.MethodGet, "/api/tables/productos?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestGetByKey(t *testing.T) {
	svc := &fakeService{rows: []db.Row{{Columns: []string{"id"}, Values: []any{int64(7)}}}}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodGet, "/api/tables/productos/id/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "id", svc.calls[0].key)
	assert.Equal(t, "7", svc.calls[0].value)

	svc.rows = []db.Row{}
	rec = do(t, h, http.MethodGet, "/api/tables/productos/id/8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRow(t *testing.T) {
	svc := &fakeService{created: true}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodPost, "/api/tables/usuarios?encrypt=clave",
		`{"usuario":"ana","clave":"secreto123","edad":31,"saldo":10.5,"activo":true,"notas":null}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode[createdResponse](t, rec).Created)

	got := svc.calls[0]
	assert.Equal(t, "clave", got.csv)
	assert.Equal(t, db.Fields{
		"usuario": "ana",
		"clave":   "secreto123",
		"edad":    int64(31),
		"saldo":   10.5,
		"activo":  true,
		"notas":   nil,
	}, got.fields)
}

func TestCreateRowRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"nested object", `{"a":{"b":1}}`},
		{"array value", `{"a":[1,2]}`},
		{"not an object", `[1,2]`},
		{"malformed", `{"a":`},
		{"empty", ``},
		{"trailing garbage", `{"a":1} junk`},
		{"second value", `{"a":1}{"b":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			req := httptest.NewRequest(http.MethodPost, "/api/tables/productos", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			newTestServer(t, svc, 0).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, svc.calls)
		})
	}
}

func TestCreateRowAllowsTrailingWhitespace(t *testing.T) {
	svc := &fakeService{created: true}
	rec := do(t, newTestServer(t, svc, 0), http.MethodPost, "/api/tables/productos", "{\"a\":1}\n\t ")
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.calls, 1)
}

func TestCreateRowRejectsOversizedBody(t *testing.T) {
	svc := &fakeService{created: true}
	body := `{"notas":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	rec := do(t, newTestServer(t, svc, 0), http.MethodPost, "/api/tables/productos", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "too large")
	assert.Empty(t, svc.calls)
}

func TestPathParamsAreUnescaped(t *testing.T) {
	svc := &fakeService{rows: []db.Row{{Columns: []string{"id"}, Values: []any{int64(1)}}}, affected: 1}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodGet, "/api/tables/productos/codigo/a%2Fb", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a/b", svc.calls[0].value)

	rec = do(t, h, http.MethodGet, "/api/tables/productos/nota/100%25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100%", svc.calls[1].value)

	rec = do(t, h, http.MethodDelete, "/api/tables/mis%20productos/codigo/x%2Fy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.TableRef{Name: "mis productos"}, svc.calls[2].ref)
	assert.Equal(t, "x/y", svc.calls[2].value)
}

func TestUpdateAndDelete(t *testing.T) {
	svc := &fakeService{affected: 1}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodPut, "/api/tables/productos/id/3", `{"precio":12.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[affectedResponse](t, rec).Affected)
	assert.Equal(t, db.Fields{"precio": 12.5}, svc.calls[0].fields)

	rec = do(t, h, http.MethodDelete, "/api/tables/productos/id/3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	svc.affected = 0
	rec = do(t, h, http.MethodDelete, "/api/tables/productos/id/3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPut, "/api/tables/productos/id/3", `{"precio":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyPassword(t *testing.T) {
	svc := &fakeService{valid: true}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodPost, "/api/tables/usuarios/verify-password",
		`{"user_column":"usuario","password_column":"clave","user":"ana","password":"secreto123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[verifyResponse](t, rec).Valid)
	assert.Equal(t, "usuario/clave", svc.calls[0].key)
	assert.Equal(t, "ana", svc.calls[0].value)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", errors.Join(db.ErrValidation, errors.New("table name is required")), http.StatusBadRequest},
		{"denied", &crud.AccessDeniedError{Table: "usuarios"}, http.StatusForbidden},
		{"backend", &db.DataAccessError{Dialect: db.DialectMySQL, Op: "fetch rows", Err: errors.New("boom")}, http.StatusInternalServerError},
		{"diagnostics", &db.DiagnosticsError{Dialect: db.DialectMySQL, Err: errors.New("gone")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			rec := do(t, newTestServer(t, svc, 0), http.MethodGet, "/api/tables/usuarios", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.err.Error(), decode[errorResponse](t, rec).Error)
		})
	}
}

func TestQueryTimeout(t *testing.T) {
	svc := &fakeService{block: true}
	rec := do(t, newTestServer(t, svc, 20*time.Millisecond), http.MethodGet, "/api/tables/productos", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestDiagnostics(t *testing.T) {
	svc := &fakeService{diag: &db.Diagnostics{Provider: "MySQL", Database: "tienda", Port: 3306}}
	rec := do(t, newTestServer(t, svc, 0), http.MethodGet, "/api/diagnostics/connection", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "MySQL", got["provider"])
	assert.Equal(t, "tienda", got["database"])
}

func TestStructures(t *testing.T) {
	svc := &fakeService{
		schema: "public",
		cols:   []db.Column{{Name: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1}},
		found:  true,
		structure: db.DatabaseStructure{
			"public": {"productos": {{Name: "id", DataType: "integer", OrdinalPosition: 1}}},
		},
	}
	h := newTestServer(t, svc, 0)

	rec := do(t, h, http.MethodGet, "/api/structures/productos/model?schema=public", "")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[map[string]any](t, rec)
	assert.Equal(t, "public", m["schema"])
	assert.EqualValues(t, 1, m["total"])
	assert.Equal(t, db.TableRef{Schema: "public", Name: "productos"}, svc.calls[0].ref)

	rec = do(t, h, http.MethodGet, "/api/structures/database", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"productos"`)

	svc.found = false
	rec = do(t, h, http.MethodGet, "/api/structures/fantasma/model", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}, 0), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(Config{Service: &fakeService{}, Logger: testutil.NewTestLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
