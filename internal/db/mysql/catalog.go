package mysql

import (
	"context"

	"github.com/bgunnarsson/crudgate/internal/db"
)

const schemaQuery = `
SELECT table_schema
FROM information_schema.tables
WHERE LOWER(table_name) = LOWER(?)
  AND (? = '' OR LOWER(table_schema) = LOWER(?))
  AND table_schema NOT IN ('mysql', 'sys', 'performance_schema', 'information_schema')
ORDER BY table_schema = DATABASE() DESC, table_schema
LIMIT 1;
`

const columnsSelect = `
SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
       c.ordinal_position, c.character_maximum_length,
       CASE WHEN c.column_key = 'PRI' THEN 1 ELSE 0 END AS is_primary_key
FROM information_schema.columns c
`

const tableColumnsQuery = columnsSelect + `
WHERE LOWER(c.table_schema) = LOWER(COALESCE(NULLIF(?, ''), DATABASE()))
  AND LOWER(c.table_name) = LOWER(?)
ORDER BY c.ordinal_position;
`

const databaseColumnsQuery = columnsSelect + `
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
  AND c.table_schema = DATABASE()
ORDER BY c.table_name, c.ordinal_position;
`

// GetSchema resolves the schema (database) holding table, preferring the
// connection's current database.
func (m *MysqlDB) GetSchema(ctx context.Context, table, schemaHint string) (string, bool, error) {
	if err := db.RequireIdent("table name", table); err != nil {
		return "", false, err
	}
	return m.QueryString(ctx, "get schema", schemaQuery, table, schemaHint, schemaHint)
}

func (m *MysqlDB) GetTableStructure(ctx context.Context, ref db.TableRef) ([]db.Column, error) {
	if err := db.ValidateRef(ref); err != nil {
		return nil, err
	}
	cols, err := m.Catalog(ctx, "get table structure", tableColumnsQuery, ref.Schema, ref.Name)
	if err != nil {
		return nil, err
	}
	return db.Columns(cols), nil
}

func (m *MysqlDB) GetDatabaseStructure(ctx context.Context) (db.DatabaseStructure, error) {
	cols, err := m.Catalog(ctx, "get database structure", databaseColumnsQuery)
	if err != nil {
		return nil, err
	}
	return db.Structure(cols), nil
}
