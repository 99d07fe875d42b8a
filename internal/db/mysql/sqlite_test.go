package mysql

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/fieldhash"
	"github.com/bgunnarsson/crudgate/internal/testutil"
)

// The repository SQL is plain enough that SQLite runs it unchanged, which
// lets these tests drive real rows through every write path.

const productosDDL = "CREATE TABLE `productos` (" +
	"`id` INTEGER PRIMARY KEY AUTOINCREMENT, " +
	"`nombre` TEXT NOT NULL, " +
	"`precio` REAL)"

const usuariosDDL = "CREATE TABLE `usuarios` (" +
	"`id` INTEGER PRIMARY KEY AUTOINCREMENT, " +
	"`usuario` TEXT NOT NULL UNIQUE, " +
	"`clave` TEXT)"

func newSQLiteRepo(t *testing.T) *MysqlDB {
	t.Helper()
	sqldb := testutil.OpenSQLite(t, productosDDL, usuariosDDL)
	return New(sqldb, db.Options{
		Logger: testutil.NewTestLogger(t),
		Hasher: fieldhash.Bcrypt{Cost: bcrypt.MinCost},
	})
}

var productos = db.TableRef{Name: "productos"}

func TestRoundTripCreateAndFetch(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	ok, err := repo.Create(ctx, productos, db.Fields{"nombre": "Widget", "precio": 9.99}, "")
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := repo.FetchByKey(ctx, productos, "nombre", "Widget")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Widget", rows[0].Get("nombre"))
	assert.InDelta(t, 9.99, rows[0].Get("precio"), 1e-9)
	assert.Equal(t, int64(1), rows[0].Get("ID"))
}

func TestRoundTripFetchRowsLimit(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	for i := range 100 {
		ok, err := repo.Create(ctx, productos, db.Fields{"nombre": fmt.Sprintf("p%03d", i)}, "")
		require.NoError(t, err)
		require.True(t, ok)
	}

	rows, err := repo.FetchRows(ctx, productos, 5)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	rows, err = repo.FetchRows(ctx, productos, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 100)
}

func TestRoundTripUpdate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, productos, db.Fields{"nombre": "Widget", "precio": 9.99}, "")
	require.NoError(t, err)

	n, err := repo.Update(ctx, productos, "id", "1", db.Fields{"precio": 12.5}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A key that matches nothing changes nothing.
	n, err = repo.Update(ctx, productos, "id", int64(999), db.Fields{"precio": 0.0}, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := repo.FetchRows(ctx, productos, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 12.5, rows[0].Get("precio"), 1e-9)
	assert.Equal(t, "Widget", rows[0].Get("nombre"))
}

func TestRoundTripDelete(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, productos, db.Fields{"nombre": "Widget"}, "")
	require.NoError(t, err)

	n, err := repo.Delete(ctx, productos, "nombre", "Widget")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := repo.FetchByKey(ctx, productos, "nombre", "Widget")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	n, err = repo.Delete(ctx, productos, "nombre", "Widget")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRoundTripHashedPassword(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	usuarios := db.TableRef{Name: "usuarios"}

	ok, err := repo.Create(ctx, usuarios, db.Fields{"usuario": "ana", "clave": "secreto123"}, "clave")
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := repo.FetchByKey(ctx, usuarios, "usuario", "ana")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, "secreto123", rows[0].Get("clave"))

	hash, found, err := repo.FetchPasswordHash(ctx, usuarios, "usuario", "clave", "ana")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, fieldhash.Verify(hash, "secreto123"))
	assert.False(t, fieldhash.Verify(hash, "wrong"))

	_, found, err = repo.FetchPasswordHash(ctx, usuarios, "usuario", "clave", "nadie")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRoundTripUnknownTable(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, err := repo.FetchRows(context.Background(), db.TableRef{Name: "fantasma"}, 0)
	var dae *db.DataAccessError
	require.ErrorAs(t, err, &dae)
	assert.Equal(t, "fetch rows", dae.Op)
}
