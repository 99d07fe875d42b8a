package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"

	"github.com/bgunnarsson/crudgate/internal/db"
)

type MssqlDB struct {
	db.Base
}

var _ db.Repository = (*MssqlDB)(nil)

// Open opens a SQL Server pool (SQL Server, Express and LocalDB).
// If the DSN contains "fedauth=", we use the Azure AD driver (azuresql)
// so things like ActiveDirectoryInteractive / AzCli work.
func Open(dsn string, opts db.Options) (*MssqlDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty mssql DSN")
	}

	driverName := "sqlserver"
	if strings.Contains(strings.ToLower(dsn), "fedauth=") {
		driverName = azuread.DriverName // "azuresql"
	}

	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
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
func New(sqldb *sql.DB, opts db.Options) *MssqlDB {
	return &MssqlDB{Base: db.NewBase(sqldb, db.DialectSQLServer, opts, normalizeValue)}
}

func (m *MssqlDB) Dialect() db.Dialect { return db.DialectSQLServer }

func (m *MssqlDB) FetchRows(ctx context.Context, ref db.TableRef, limit int) ([]db.Row, error) {
	if err := db.ValidateRef(ref); err != nil {
		return nil, err
	}
	n, err := db.ResolveLimit(limit)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT TOP (@p1) * FROM %s", tableName(ref))
	return m.QueryRows(ctx, "fetch rows", q, n)
}

func (m *MssqlDB) FetchByKey(ctx context.Context, ref db.TableRef, key string, value any) ([]db.Row, error) {
	if err := validateKeyed(ref, key); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = @p1", tableName(ref), quoteIdent(key))
	return m.QueryRows(ctx, "fetch by key", q, value)
}

func (m *MssqlDB) Create(ctx context.Context, ref db.TableRef, fields db.Fields, encryptCSV string) (bool, error) {
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
		marks[i] = placeholder(i + 1)
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

func (m *MssqlDB) Update(ctx context.Context, ref db.TableRef, key string, value any, fields db.Fields, encryptCSV string) (int64, error) {
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
		sets[i] = quoteIdent(k) + " = " + placeholder(i+1)
		args = append(args, fields[k])
	}
	args = append(args, value)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		tableName(ref), strings.Join(sets, ", "), quoteIdent(key), placeholder(len(keys)+1))
	return m.Exec(ctx, "update", q, args...)
}

func (m *MssqlDB) Delete(ctx context.Context, ref db.TableRef, key string, value any) (int64, error) {
	if err := validateKeyed(ref, key); err != nil {
		return 0, err
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE %s = @p1", tableName(ref), quoteIdent(key))
	return m.Exec(ctx, "delete", q, value)
}

func (m *MssqlDB) FetchPasswordHash(ctx context.Context, ref db.TableRef, userColumn, passwordColumn string, user any) (string, bool, error) {
	if err := validateKeyed(ref, userColumn); err != nil {
		return "", false, err
	}
	if err := db.RequireIdent("password column", passwordColumn); err != nil {
		return "", false, err
	}

	q := fmt.Sprintf("SELECT TOP 1 %s FROM %s WHERE %s = @p1",
		quoteIdent(passwordColumn), tableName(ref), quoteIdent(userColumn))
	return m.QueryString(ctx, "fetch password hash", q, user)
}

// normalizeValue adds uniqueidentifier handling to the shared conversion.
func normalizeValue(dbType string, v any) any {
	if b, ok := v.([]byte); ok && dbType == "uniqueidentifier" {
		return formatUniqueIdentifier(b)
	}
	return db.NormalizeValue(dbType, v)
}

// SQL Server stores the first three groups little-endian.
func formatUniqueIdentifier(b []byte) string {
	if len(b) != 16 {
		return fmt.Sprintf("%x", b)
	}

	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15],
	)
}

func validateKeyed(ref db.TableRef, key string) error {
	if err := db.ValidateRef(ref); err != nil {
		return err
	}
	return db.RequireIdent("key column", key)
}

func placeholder(n int) string {
	return "@p" + strconv.Itoa(n)
}

func tableName(ref db.TableRef) string {
	if ref.Schema == "" {
		return quoteIdent(ref.Name)
	}
	return quoteIdent(ref.Schema) + "." + quoteIdent(ref.Name)
}

func quoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
