package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditTableNames are exported in the monthly audit report.
var AuditTableNames = []string{
	"halls",
	"reservations",
	"blocked_slots",
	"staff",
}

// time columns stored as unix seconds, rendered as timestamps in reports
var auditTimeColumns = map[string]bool{
	"start_time": true,
	"end_time":   true,
	"created_at": true,
	"updated_at": true,
}

func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// GetTableData returns all rows of an audit table as column maps.
func (db *DB) GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error) {
	valid := false
	for _, t := range AuditTableNames {
		if t == tableName {
			valid = true
			break
		}
	}
	if !valid {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	columns, err := db.tableColumns(ctx, tableName)
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", tableName))
	if err != nil {
		return nil, nil, classify(err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if sec, ok := v.(int64); ok && auditTimeColumns[col] {
				v = time.Unix(sec, 0).UTC()
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		result = append(result, row)
	}
	return result, columns, classify(rows.Err())
}

func (db *DB) tableColumns(ctx context.Context, tableName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typeName   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typeName, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", tableName)
	}
	return columns, rows.Err()
}
