// Package db defines the dialect-neutral data-access contract shared by the
// SQL Server, PostgreSQL and MySQL repositories, plus the helpers they build
// on: scoped connection handling, row scanning and value normalization.
package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultLimit caps FetchRows when the caller does not give a limit.
const DefaultLimit = 1000

type Dialect string

const (
	DialectSQLServer Dialect = "sqlserver"
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
)

// ParseDialect maps a configured provider name to a Dialect. Matching is
// case-insensitive and an empty name selects SQL Server.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlserver", "sqlserverexpress", "localdb", "mssql":
		return DialectSQLServer, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database provider %q", name)
	}
}

// TableRef names one table, optionally schema-qualified.
type TableRef struct {
	Schema string
	Name   string
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// Fields is a caller-supplied column to value mapping used for writes.
type Fields map[string]any

// Keys returns the column names in sorted order so generated SQL is stable.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Column describes one column of a table as reported by the catalog.
type Column struct {
	Name            string `json:"name"`
	DataType        string `json:"dataType"`
	Nullable        bool   `json:"nullable"`
	IsPrimaryKey    bool   `json:"isPrimaryKey"`
	OrdinalPosition int    `json:"ordinalPosition"`
	MaxLength       *int64 `json:"maxLength,omitempty"`
}

// DatabaseStructure maps schema -> table -> columns.
type DatabaseStructure map[string]map[string][]Column

// Diagnostics is a live snapshot of the server and the current session.
type Diagnostics struct {
	Provider      string `json:"provider"`
	Database      string `json:"database"`
	Schema        string `json:"schema"`
	ServerVersion string `json:"serverVersion"`
	ServerType    string `json:"serverType"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	StartTime     string `json:"startTime,omitempty"`
	CurrentUser   string `json:"currentUser"`
	ConnectionID  int64  `json:"connectionId"`
	Uptime        string `json:"uptime,omitempty"`
}

// Repository is implemented once per dialect.
type Repository interface {
	Dialect() Dialect
	Close() error

	FetchRows(ctx context.Context, ref TableRef, limit int) ([]Row, error)
	FetchByKey(ctx context.Context, ref TableRef, key string, value any) ([]Row, error)
	Create(ctx context.Context, ref TableRef, fields Fields, encryptCSV string) (bool, error)
	Update(ctx context.Context, ref TableRef, key string, value any, fields Fields, encryptCSV string) (int64, error)
	Delete(ctx context.Context, ref TableRef, key string, value any) (int64, error)
	FetchPasswordHash(ctx context.Context, ref TableRef, userColumn, passwordColumn string, user any) (string, bool, error)

	GetSchema(ctx context.Context, table, schemaHint string) (string, bool, error)
	GetTableStructure(ctx context.Context, ref TableRef) ([]Column, error)
	GetDatabaseStructure(ctx context.Context) (DatabaseStructure, error)

	ConnectionDiagnostics(ctx context.Context) (*Diagnostics, error)
}
