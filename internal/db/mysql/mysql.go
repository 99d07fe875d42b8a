package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/bgunnarsson/crudgate/internal/db"
)

type MysqlDB struct {
	db.Base
}

var _ db.Repository = (*MysqlDB)(nil)

// Open opens a MySQL/MariaDB pool. The DSN is the go-sql-driver format;
// clientFoundRows and parseTime are always switched on so UPDATE reports
// matched rows and DATETIME columns scan as time.Time.
func Open(dsn string, opts db.Options) (*MysqlDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty mysql DSN")
	}

	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql DSN: %w", err)
	}
	cfg.ClientFoundRows = true
	cfg.ParseTime = true

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}

	sqldb := sql.OpenDB(connector)
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
func New(sqldb *sql.DB, opts db.Options) *MysqlDB {
	return &MysqlDB{Base: db.NewBase(sqldb, db.DialectMySQL, opts, nil)}
}

func (m *MysqlDB) Dialect() db.Dialect { return db.DialectMySQL }

func (m *MysqlDB) FetchRows(ctx context.Context, ref db.TableRef, limit int) ([]db.Row, error) {
	if err := db.ValidateRef(ref); err != nil {
		return nil, err
	}
	n, err := db.ResolveLimit(limit)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s LIMIT ?", tableName(ref))
	return m.QueryRows(ctx, "fetch rows", q, n)
}

func (m *MysqlDB) FetchByKey(ctx context.Context, ref db.TableRef, key string, value any) ([]db.Row, error) {
	if err := validateKeyed(ref, key); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", tableName(ref), quoteIdent(key))
	return m.QueryRows(ctx, "fetch by key", q, value)
}

func (m *MysqlDB) Create(ctx context.Context, ref db.TableRef, fields db.Fields, encryptCSV string) (bool, error) {
	if err := db.ValidateRef(ref); err != nil {
		return false, err
	}
	fields, err := m.PrepareFields(fields, encryptCSV)
	if err != nil {
		return false, err
	}

	keys := fields.Keys()
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = quoteIdent(k)
		marks[i] = "?"
		args[i] = fields[k]
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName(ref), strings.Join(cols, ", "), strings.Join(marks, ", "))

	n, err := m.Exec(ctx, "create", q, args...)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (m *MysqlDB) Update(ctx context.Context, ref db.TableRef, key string, value any, fields db.Fields, encryptCSV string) (int64, error) {
	if err := validateKeyed(ref, key); err != nil {
		return 0, err
	}
	fields, err := m.PrepareFields(fields, encryptCSV)
	if err != nil {
		return 0, err
	}

	keys := fields.Keys()
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = quoteIdent(k) + " = ?"
		args = append(args, fields[k])
	}
	args = append(args, value)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		tableName(ref), strings.Join(sets, ", "), quoteIdent(key))
	return m.Exec(ctx, "update", q, args...)
}

func (m *MysqlDB) Delete(ctx context.Context, ref db.TableRef, key string, value any) (int64, error) {
	if err := validateKeyed(ref, key); err != nil {
		return 0, err
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", tableName(ref), quoteIdent(key))
	return m.Exec(ctx, "delete", q, value)
}

func (m *MysqlDB) FetchPasswordHash(ctx context.Context, ref db.TableRef, userColumn, passwordColumn string, user any) (string, bool, error) {
	if err := validateKeyed(ref, userColumn); err != nil {
		return "", false, err
	}
	if err := db.RequireIdent("password column", passwordColumn); err != nil {
		return "", false, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
		quoteIdent(passwordColumn), tableName(ref), quoteIdent(userColumn))
	return m.QueryString(ctx, "fetch password hash", q, user)
}

func validateKeyed(ref db.TableRef, key string) error {
	if err := db.ValidateRef(ref); err != nil {
		return err
	}
	return db.RequireIdent("key column", key)
}

func tableName(ref db.TableRef) string {
	if ref.Schema == "" {
		return quoteIdent(ref.Name)
	}
	return quoteIdent(ref.Schema) + "." + quoteIdent(ref.Name)
}

func quoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
