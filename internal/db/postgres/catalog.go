package postgres

import (
	"context"

	"github.com/bgunnarsson/crudgate/internal/db"
)

const schemaQuery = `
SELECT table_schema
FROM information_schema.tables
WHERE lower(table_name) = lower($1)
  AND ($2 = '' OR lower(table_schema) = lower($2))
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY CASE WHEN table_schema = current_schema() THEN 0 ELSE 1 END, table_schema
LIMIT 1;
`

const columnsSelect = `
SELECT c.table_schema, c.table_name, c.column_name, c.data_type, c.is_nullable,
       c.ordinal_position, c.character_maximum_length,
       CASE WHEN EXISTS (
           SELECT 1
           FROM information_schema.table_constraints tc
           JOIN information_schema.key_column_usage kcu
             ON tc.constraint_name = kcu.constraint_name
            AND tc.table_schema = kcu.table_schema
           WHERE tc.constraint_type = 'PRIMARY KEY'
             AND tc.table_schema = c.table_schema
             AND tc.table_name = c.table_name
             AND kcu.column_name = c.column_name
       ) THEN 1 ELSE 0 END AS is_primary_key
FROM information_schema.columns c
`

const tableColumnsQuery = columnsSelect + `
WHERE lower(c.table_schema) = lower(COALESCE(NULLIF($1, ''), current_schema()))
  AND lower(c.table_name) = lower($2)
ORDER BY c.ordinal_position;
`

const databaseColumnsQuery = columnsSelect + `
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
  AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY c.table_schema, c.table_name, c.ordinal_position;
`

// GetSchema resolves the schema holding table, preferring current_schema().
func (p *PostgresDB) GetSchema(ctx context.Context, table, schemaHint string) (string, bool, error) {
	if err := db.RequireIdent("table name", table); err != nil {
		return "", false, err
	}
	return p.QueryString(ctx, "get schema", schemaQuery, table, schemaHint)
}

func (p *PostgresDB) GetTableStructure(ctx context.Context, ref db.TableRef) ([]db.Column, error) {
	if err := db.ValidateRef(ref); err != nil {
		return nil, err
	}
	cols, err := p.Catalog(ctx, "get table structure", tableColumnsQuery, ref.Schema, ref.Name)
	if err != nil {
		return nil, err
	}
	return db.Columns(cols), nil
}

func (p *PostgresDB) GetDatabaseStructure(ctx context.Context) (db.DatabaseStructure, error) {
	cols, err := p.Catalog(ctx, "get database structure", databaseColumnsQuery)
	if err != nil {
		return nil, err
	}
	return db.Structure(cols), nil
}
