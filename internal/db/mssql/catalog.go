package mssql

import (
	"context"

	"github.com/bgunnarsson/crudgate/internal/db"
)

const schemaQuery = `
SELECT TOP 1 TABLE_SCHEMA
FROM INFORMATION_SCHEMA.TABLES
WHERE LOWER(TABLE_NAME) = LOWER(@p1)
  AND (@p2 = '' OR LOWER(TABLE_SCHEMA) = LOWER(@p2))
ORDER BY CASE WHEN TABLE_SCHEMA = SCHEMA_NAME() THEN 0 ELSE 1 END, TABLE_SCHEMA;
`

const columnsSelect = `
SELECT c.TABLE_SCHEMA, c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE,
       c.ORDINAL_POSITION, c.CHARACTER_MAXIMUM_LENGTH,
       CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END AS IS_PRIMARY_KEY
FROM INFORMATION_SCHEMA.COLUMNS c
LEFT JOIN (
    SELECT ku.TABLE_SCHEMA, ku.TABLE_NAME, ku.COLUMN_NAME
    FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
    JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
      ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
     AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
    WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
) pk
  ON pk.TABLE_SCHEMA = c.TABLE_SCHEMA
 AND pk.TABLE_NAME = c.TABLE_NAME
 AND pk.COLUMN_NAME = c.COLUMN_NAME
`

const tableColumnsQuery = columnsSelect + `
WHERE LOWER(c.TABLE_SCHEMA) = LOWER(COALESCE(NULLIF(@p1, ''), SCHEMA_NAME()))
  AND LOWER(c.TABLE_NAME) = LOWER(@p2)
ORDER BY c.ORDINAL_POSITION;
`

const databaseColumnsQuery = columnsSelect + `
JOIN INFORMATION_SCHEMA.TABLES t
  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
WHERE t.TABLE_TYPE = 'BASE TABLE'
ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION;
`

// GetSchema resolves the owning schema of table, preferring the caller's
// default schema (usually dbo).
func (m *MssqlDB) GetSchema(ctx context.Context, table, schemaHint string) (string, bool, error) {
	if err := db.RequireIdent("table name", table); err != nil {
		return "", false, err
	}
	return m.QueryString(ctx, "get schema", schemaQuery, table, schemaHint)
}

// GetTableStructure accepts either a bare table or a schema-qualified one.
func (m *MssqlDB) GetTableStructure(ctx context.Context, ref db.TableRef) ([]db.Column, error) {
	if err := db.ValidateRef(ref); err != nil {
		return nil, err
	}
	cols, err := m.Catalog(ctx, "get table structure", tableColumnsQuery, ref.Schema, ref.Name)
	if err != nil {
		return nil, err
	}
	return db.Columns(cols), nil
}

func (m *MssqlDB) GetDatabaseStructure(ctx context.Context) (db.DatabaseStructure, error) {
	cols, err := m.Catalog(ctx, "get database structure", databaseColumnsQuery)
	if err != nil {
		return nil, err
	}
	return db.Structure(cols), nil
}
