package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bgunnarsson/crudgate/internal/fieldhash"
)

// Options configures a dialect repository.
type Options struct {
	Logger          *slog.Logger
	Hasher          fieldhash.Hasher
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ConfigurePool applies pool limits to a freshly opened *sql.DB.
func ConfigurePool(sqldb *sql.DB, opts Options) {
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	sqldb.SetMaxOpenConns(maxOpen)
	sqldb.SetMaxIdleConns(maxOpen)
	sqldb.SetConnMaxLifetime(lifetime)
}

// Base carries what every dialect repository shares. Embed it and build
// the dialect's SQL text on top of its helpers.
type Base struct {
	DB        *sql.DB
	Dialect   Dialect
	Logger    *slog.Logger
	Hasher    fieldhash.Hasher
	Normalize NormalizeFunc
}

// NewBase fills in defaults for a nil logger, hasher or normalizer.
func NewBase(sqldb *sql.DB, d Dialect, opts Options, normalize NormalizeFunc) Base {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = fieldhash.Bcrypt{Cost: fieldhash.DefaultCost}
	}
	if normalize == nil {
		normalize = NormalizeValue
	}
	return Base{
		DB:        sqldb,
		Dialect:   d,
		Logger:    logger.With("dialect", string(d)),
		Hasher:    hasher,
		Normalize: normalize,
	}
}

func (b *Base) Close() error {
	if b.DB == nil {
		return nil
	}
	return b.DB.Close()
}

// Fail wraps a driver error for op.
func (b *Base) Fail(op string, err error) error {
	return &DataAccessError{Dialect: b.Dialect, Op: op, Err: err}
}

// WithConn checks a connection out of the pool for the duration of fn and
// returns it on every path. Errors are wrapped as *DataAccessError.
func (b *Base) WithConn(ctx context.Context, op string, fn func(conn *sql.Conn) error) error {
	conn, err := b.DB.Conn(ctx)
	if err != nil {
		return b.Fail(op, err)
	}
	defer func() { _ = conn.Close() }()

	if err := fn(conn); err != nil {
		return b.Fail(op, err)
	}
	return nil
}

// WithDiagnosticsConn is WithConn for diagnostics: failures surface as
// *DiagnosticsError instead of *DataAccessError.
func (b *Base) WithDiagnosticsConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := b.DB.Conn(ctx)
	if err != nil {
		return &DiagnosticsError{Dialect: b.Dialect, Err: err}
	}
	defer func() { _ = conn.Close() }()

	if err := fn(conn); err != nil {
		return &DiagnosticsError{Dialect: b.Dialect, Err: err}
	}
	return nil
}

// QueryRows runs a row-returning statement on its own connection.
func (b *Base) QueryRows(ctx context.Context, op, query string, args ...any) ([]Row, error) {
	b.Logger.Debug("query", "op", op, "sql", query)

	var out []Row
	err := b.WithConn(ctx, op, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out, err = ScanRows(rows, b.Normalize)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Row{}
	}
	return out, nil
}

// Exec runs a statement and returns the affected row count.
func (b *Base) Exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	b.Logger.Debug("exec", "op", op, "sql", query)

	var affected int64
	err := b.WithConn(ctx, op, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// QueryString reads the first column of the first row as text. A missing
// row and a NULL value both report found == false.
func (b *Base) QueryString(ctx context.Context, op, query string, args ...any) (string, bool, error) {
	b.Logger.Debug("query", "op", op, "sql", query)

	var value sql.NullString
	err := b.WithConn(ctx, op, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, query, args...).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", false, err
	}
	return value.String, value.Valid, nil
}

// CatalogColumn is one row of a catalog query.
type CatalogColumn struct {
	Schema string
	Table  string
	Column
}

// Catalog runs a catalog query selecting, in order: schema, table, column
// name, data type, is_nullable ('YES'/'NO'), ordinal position, maximum
// character length and a 0/1 primary-key flag.
func (b *Base) Catalog(ctx context.Context, op, query string, args ...any) ([]CatalogColumn, error) {
	b.Logger.Debug("catalog", "op", op, "sql", query)

	var out []CatalogColumn
	err := b.WithConn(ctx, op, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				c        CatalogColumn
				nullable string
				ordinal  int64
				maxLen   sql.NullInt64
				pk       int64
			)
			if err := rows.Scan(&c.Schema, &c.Table, &c.Name, &c.DataType, &nullable, &ordinal, &maxLen, &pk); err != nil {
				return err
			}
			c.Nullable = strings.EqualFold(nullable, "YES")
			c.OrdinalPosition = int(ordinal)
			c.IsPrimaryKey = pk != 0
			if maxLen.Valid {
				n := maxLen.Int64
				c.MaxLength = &n
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// Structure groups catalog rows into schema -> table -> columns.
func Structure(cols []CatalogColumn) DatabaseStructure {
	out := DatabaseStructure{}
	for _, c := range cols {
		tables, ok := out[c.Schema]
		if !ok {
			tables = map[string][]Column{}
			out[c.Schema] = tables
		}
		tables[c.Table] = append(tables[c.Table], c.Column)
	}
	return out
}

// Columns drops the schema and table from catalog rows.
func Columns(cols []CatalogColumn) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, c.Column)
	}
	return out
}

// PrepareFields validates a write payload and applies the one-way hash to
// the columns named in encryptCSV. The caller's map is left untouched.
func (b *Base) PrepareFields(fields Fields, encryptCSV string) (Fields, error) {
	if len(fields) == 0 {
		return nil, invalid("no fields to write")
	}
	for k := range fields {
		if err := RequireIdent("column", k); err != nil {
			return nil, err
		}
	}
	out, err := fieldhash.Apply(b.Hasher, fields, encryptCSV)
	if err != nil {
		return nil, invalid("%v", err)
	}
	return out, nil
}

// ValidateRef rejects an empty table name and unusable identifiers.
func ValidateRef(ref TableRef) error {
	if err := RequireIdent("table name", ref.Name); err != nil {
		return err
	}
	if ref.Schema != "" {
		return RequireIdent("schema", ref.Schema)
	}
	return nil
}

// RequireIdent rejects an empty or NUL-carrying identifier.
func RequireIdent(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("%s is required", kind)
	}
	if strings.ContainsRune(name, 0) {
		return invalid("%s contains a NUL byte", kind)
	}
	return nil
}

// ResolveLimit applies DefaultLimit and rejects negative values.
func ResolveLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, invalid("limit must not be negative")
	case limit == 0:
		return DefaultLimit, nil
	default:
		return limit, nil
	}
}
