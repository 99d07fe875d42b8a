package crud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/fieldhash"
	"github.com/bgunnarsson/crudgate/internal/policy"
	"github.com/bgunnarsson/crudgate/internal/testutil"
)

// spyRepo records calls and returns canned results.
type spyRepo struct {
	calls []string

	rows      []db.Row
	affected  int64
	created   bool
	hash      string
	hashFound bool
	schema    string
	found     bool
	columns   []db.Column
	structure db.DatabaseStructure
	diag      *db.Diagnostics
	err       error
}

var _ db.Repository = (*spyRepo)(nil)

func (r *spyRepo) record(name string) { r.calls = append(r.calls, name) }

func (r *spyRepo) Dialect() db.Dialect { return db.DialectPostgres }
func (r *spyRepo) Close() error        { return nil }

func (r *spyRepo) FetchRows(context.Context, db.TableRef, int) ([]db.Row, error) {
	r.record("FetchRows")
	return r.rows, r.err
}

func (r *spyRepo) FetchByKey(context.Context, db.TableRef, string, any) ([]db.Row, error) {
	r.record("FetchByKey")
	return r.rows, r.err
}

func (r *spyRepo) Create(context.Context, db.TableRef, db.Fields, string) (bool, error) {
	r.record("Create")
	return r.created, r.err
}

func (r *spyRepo) Update(context.Context, db.TableRef, string, any, db.Fields, string) (int64, error) {
	r.record("Update")
	return r.affected, r.err
}

func (r *spyRepo) Delete(context.Context, db.TableRef, string, any) (int64, error) {
	r.record("Delete")
	return r.affected, r.err
}

func (r *spyRepo) FetchPasswordHash(context.Context, db.TableRef, string, string, any) (string, bool, error) {
	r.record("FetchPasswordHash")
	return r.hash, r.hashFound, r.err
}

func (r *spyRepo) GetSchema(context.Context, string, string) (string, bool, error) {
	r.record("GetSchema")
	return r.schema, r.found, r.err
}

func (r *spyRepo) GetTableStructure(context.Context, db.TableRef) ([]db.Column, error) {
	r.record("GetTableStructure")
	return r.columns, r.err
}

func (r *spyRepo) GetDatabaseStructure(context.Context) (db.DatabaseStructure, error) {
	r.record("GetDatabaseStructure")
	return r.structure, r.err
}

func (r *spyRepo) ConnectionDiagnostics(context.Context) (*db.Diagnostics, error) {
	r.record("ConnectionDiagnostics")
	return r.diag, r.err
}

func newService(t *testing.T, repo *spyRepo, forbidden ...string) *Service {
	t.Helper()
	return New(repo, policy.New(forbidden...), fieldhash.Bcrypt{Cost: bcrypt.MinCost}, testutil.NewTestLogger(t))
}

func TestForbiddenTableNeverReachesRepository(t *testing.T) {
	ctx := context.Background()
	ref := db.TableRef{Name: "Usuarios"}

	ops := map[string]func(s *Service) error{
		"FetchRows": func(s *Service) error { _, err := s.FetchRows(ctx, ref, 0); return err },
		"FetchByKey": func(s *Service) error {
			_, err := s.FetchByKey(ctx, ref, "id", 1)
			return err
		},
		"Create": func(s *Service) error {
			_, err := s.Create(ctx, ref, db.Fields{"a": 1}, "")
			return err
		},
		"Update": func(s *Service) error {
			_, err := s.Update(ctx, ref, "id", 1, db.Fields{"a": 1}, "")
			return err
		},
		"Delete": func(s *Service) error { _, err := s.Delete(ctx, ref, "id", 1); return err },
		"VerifyPassword": func(s *Service) error {
			_, err := s.VerifyPassword(ctx, ref, "usuario", "clave", "ana", "x")
			return err
		},
		"TableModel": func(s *Service) error {
			_, _, _, err := s.TableModel(ctx, "usuarios", "")
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			repo := &spyRepo{}
			s := newService(t, repo, "usuarios")

			err := op(s)
			require.ErrorIs(t, err, ErrAccessDenied)

			var ade *AccessDeniedError
			require.ErrorAs(t, err, &ade)
			assert.Contains(t, err.Error(), "restricted")
			assert.Empty(t, repo.calls)
		})
	}
}

func TestValidationComesBeforePolicy(t *testing.T) {
	repo := &spyRepo{}
	s := newService(t, repo, "*")

	_, err := s.FetchRows(context.Background(), db.TableRef{Name: " "}, 0)
	assert.ErrorIs(t, err, db.ErrValidation)
	assert.NotErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, repo.calls)
}

func TestQualifiedNameIsChecked(t *testing.T) {
	repo := &spyRepo{}
	s := newService(t, repo, "contabilidad.*")

	_, err := s.FetchRows(context.Background(), db.TableRef{Schema: "contabilidad", Name: "asientos"}, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = s.FetchRows(context.Background(), db.TableRef{Schema: "ventas", Name: "asientos"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"FetchRows"}, repo.calls)
}

func TestQualifiedEntryCoversDefaultSchema(t *testing.T) {
	repo := &spyRepo{}
	s := newService(t, repo, "dbo.usuarios")
	ctx := context.Background()

	_, err := s.FetchRows(ctx, db.TableRef{Schema: "dbo", Name: "usuarios"}, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = s.FetchRows(ctx, db.TableRef{Name: "usuarios"}, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, _, _, err = s.TableModel(ctx, "Usuarios", "")
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Empty(t, repo.calls)

	_, err = s.FetchRows(ctx, db.TableRef{Schema: "ventas", Name: "usuarios"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, []string{"FetchRows"}, repo.calls)
}

func TestAllowedCallsDelegateVerbatim(t *testing.T) {
	want := []db.Row{{Columns: []string{"id"}, Values: []any{int64(1)}}}
	repo := &spyRepo{rows: want, affected: 2, created: true}
	s := newService(t, repo, "usuarios")
	ctx := context.Background()
	ref := db.TableRef{Name: "productos"}

	rows, err := s.FetchRows(ctx, ref, 5)
	require.NoError(t, err)
	assert.Equal(t, want, rows)

	ok, err := s.Create(ctx, ref, db.Fields{"nombre": "Widget"}, "")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Update(ctx, ref, "id", 1, db.Fields{"nombre": "Gadget"}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Delete(ctx, ref, "id", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, []string{"FetchRows", "Create", "Update", "Delete"}, repo.calls)
}

func TestRepositoryErrorsPassThrough(t *testing.T) {
	boom := &db.DataAccessError{Dialect: db.DialectPostgres, Op: "fetch rows", Err: errors.New("boom")}
	s := newService(t, &spyRepo{err: boom})

	_, err := s.FetchRows(context.Background(), db.TableRef{Name: "productos"}, 0)
	assert.Same(t, boom, err)
}

func TestDiagnosticsBypassesPolicy(t *testing.T) {
	repo := &spyRepo{diag: &db.Diagnostics{Provider: "PostgreSQL"}}
	s := newService(t, repo, "*")

	d, err := s.Diagnostics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PostgreSQL", d.Provider)
}

func TestTableModel(t *testing.T) {
	cols := []db.Column{{Name: "id", IsPrimaryKey: true, OrdinalPosition: 1}}
	repo := &spyRepo{schema: "public", found: true, columns: cols}
	s := newService(t, repo)

	schema, got, found, err := s.TableModel(context.Background(), "productos", "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "public", schema)
	assert.Equal(t, cols, got)
	assert.Equal(t, []string{"GetSchema", "GetTableStructure"}, repo.calls)
}

func TestTableModelUnresolved(t *testing.T) {
	repo := &spyRepo{}
	s := newService(t, repo)

	_, _, found, err := s.TableModel(context.Background(), "fantasma", "")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []string{"GetSchema"}, repo.calls)
}

func TestDatabaseStructureOmitsForbiddenTables(t *testing.T) {
	repo := &spyRepo{structure: db.DatabaseStructure{
		"public": {
			"productos": {{Name: "id"}},
			"usuarios":  {{Name: "id"}},
		},
		"seguridad": {
			"tokens": {{Name: "id"}},
		},
	}}
	s := newService(t, repo, "usuarios", "seguridad.*")

	got, err := s.DatabaseStructure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, db.DatabaseStructure{"public": {"productos": {{Name: "id"}}}}, got)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := fieldhash.Hash("secreto123", bcrypt.MinCost)
	require.NoError(t, err)

	repo := &spyRepo{hash: hash, hashFound: true}
	s := newService(t, repo)
	ref := db.TableRef{Name: "usuarios"}

	ok, err := s.VerifyPassword(context.Background(), ref, "usuario", "clave", "ana", "secreto123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.VerifyPassword(context.Background(), ref, "usuario", "clave", "ana", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	repo.hashFound = false
	ok, err = s.VerifyPassword(context.Background(), ref, "usuario", "clave", "nadie", "secreto123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilPolicyAllowsAll(t *testing.T) {
	repo := &spyRepo{}
	s := New(repo, nil, nil, nil)

	_, err := s.FetchRows(context.Background(), db.TableRef{Name: "usuarios"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, db.DialectPostgres, s.Dialect())
}
