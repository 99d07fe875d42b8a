package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bgunnarsson/crudgate/internal/db"
)

type PostgresDB struct {
	db.Base
}

var _ db.Repository = (*PostgresDB)(nil)

// Open opens a PostgreSQL pool through the pgx stdlib driver. Both URL and
// key=value connection strings are accepted.
func Open(dsn string, opts db.Options) (*PostgresDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres DSN")
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}

	sqldb := stdlib.OpenDB(*connCfg)
	db.ConfigurePool(sqldb, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return New(sqldb, opts), nil
}

// New wraps an already opened pool.
func New(sqldb *sql.DB, opts db.Options) *PostgresDB {
	return &PostgresDB{Base: db.NewBase(sqldb, db.DialectPostgres, opts, nil)}
}

func (p *PostgresDB) Dialect() db.Dialect { return db.DialectPostgres }

func (p *PostgresDB) FetchRows(ctx context.Context, ref db.TableRef, limit int) ([]db.Row, error) {
	if err := db.ValidateRef(ref); err != nil {
		return nil, err
	}
	n, err := db.ResolveLimit(limit)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s LIMIT $1", tableName(ref))
	return p.QueryRows(ctx, "fetch rows", q, n)
}

func (p *PostgresDB) FetchByKey(ctx context.Context, ref db.TableRef, key string, value any) ([]db.Row, error) {
	if err := validateKeyed(ref, key); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", tableName(ref), quoteIdent(key))
	return p.QueryRows(ctx, "fetch by key", q, value)
}

func (p *PostgresDB) Create(ctx context.Context, ref db.TableRef, fields db.Fields, encryptCSV string) (bool, error) {
	if err := db.ValidateRef(ref); err != nil {
		return false, err
	}
	fields, err := p.PrepareFields(fields, encryptCSV)
	if err != nil {
		return false, err
	}

	keys := fields.Keys()
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = quoteIdent(k)
		marks[i] = placeholder(i + 1)
		args[i] = fields[k]
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName(ref), strings.Join(cols, ", "), strings.Join(marks, ", "))

	n, err := p.Exec(ctx, "create", q, args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresDB) Update(ctx context.Context, ref db.TableRef, key string, value any, fields db.Fields, encryptCSV string) (int64, error) {
	if err := validateKeyed(ref, key); err != nil {
		return 0, err
	}
	fields, err := p.PrepareFields(fields, encryptCSV)
	if err != nil {
		return 0, err
	}

	keys := fields.Keys()
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = quoteIdent(k) + " = " + placeholder(i+1)
		args = append(args, fields[k])
	}
	args = append(args, value)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		tableName(ref), strings.Join(sets, ", "), quoteIdent(key), placeholder(len(keys)+1))
	return p.Exec(ctx, "update", q, args...)
}

func (p *PostgresDB) Delete(ctx context.Context, ref db.TableRef, key string, value any) (int64, error) {
	if err := validateKeyed(ref, key); err != nil {
		return 0, err
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", tableName(ref), quoteIdent(key))
	return p.Exec(ctx, "delete", q, value)
}

func (p *PostgresDB) FetchPasswordHash(ctx context.Context, ref db.TableRef, userColumn, passwordColumn string, user any) (string, bool, error) {
	if err := validateKeyed(ref, userColumn); err != nil {
		return "", false, err
	}
	if err := db.RequireIdent("password column", passwordColumn); err != nil {
		return "", false, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		quoteIdent(passwordColumn), tableName(ref), quoteIdent(userColumn))
	return p.QueryString(ctx, "fetch password hash", q, user)
}

func validateKeyed(ref db.TableRef, key string) error {
	if err := db.ValidateRef(ref); err != nil {
		return err
	}
	return db.RequireIdent("key column", key)
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func tableName(ref db.TableRef) string {
	if ref.Schema == "" {
		return quoteIdent(ref.Name)
	}
	return quoteIdent(ref.Schema) + "." + quoteIdent(ref.Name)
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
