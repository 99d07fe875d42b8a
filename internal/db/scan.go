package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeFunc converts a scanned driver value into its Row form. dbType
// is the lower-cased DatabaseTypeName of the column.
type NormalizeFunc func(dbType string, v any) any

// ScanRows drains rows into Row values. The caller closes rows.
func ScanRows(rows *sql.Rows, normalize NormalizeFunc) ([]Row, error) {
	if normalize == nil {
		normalize = NormalizeValue
	}

	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	dbTypes := make([]string, len(colNames))
	for i := range colNames {
		if i < len(colTypes) && colTypes[i] != nil {
			dbTypes[i] = strings.ToLower(colTypes[i].DatabaseTypeName())
		}
	}

	var data []Row
	for rows.Next() {
		values := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		for i, v := range values {
			values[i] = normalize(dbTypes[i], v)
		}

		data = append(data, Row{Columns: colNames, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

// NormalizeValue is the shared conversion: text that arrives as bytes
// becomes a string, binary columns stay []byte and exact numerics become
// decimal.Decimal.
func NormalizeValue(dbType string, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if IsBinaryType(dbType) {
			return x
		}
		if IsDecimalType(dbType) {
			if d, err := decimal.NewFromString(string(x)); err == nil {
				return d
			}
		}
		return string(x)
	case string:
		if IsDecimalType(dbType) {
			if d, err := decimal.NewFromString(x); err == nil {
				return d
			}
		}
		return x
	default:
		return v
	}
}

// IsBinaryType reports whether a lower-cased database type holds raw bytes.
func IsBinaryType(dbType string) bool {
	switch dbType {
	case "binary", "varbinary", "image", "bytea",
		"blob", "tinyblob", "mediumblob", "longblob", "bit":
		return true
	}
	return false
}

// IsDecimalType reports whether a lower-cased database type is an exact numeric.
func IsDecimalType(dbType string) bool {
	switch dbType {
	case "decimal", "numeric", "money", "smallmoney", "newdecimal":
		return true
	}
	return false
}

// FormatStartTime renders a server start time the way diagnostics report it.
func FormatStartTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}

// FormatUptime renders an uptime as whole days and hours.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	return fmt.Sprintf("%d days, %d hours", days, hours)
}
