package pgstore

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS halls (
	id BIGSERIAL PRIMARY KEY,
	slug TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	capacity INTEGER NOT NULL DEFAULT 0,
	image_ref TEXT NOT NULL DEFAULT '',
	rate_kind TEXT NOT NULL DEFAULT 'flat',
	hourly_rate BIGINT NOT NULL DEFAULT 0,
	weekday_rate BIGINT NOT NULL DEFAULT 0,
	weekend_rate BIGINT NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reservations (
	id BIGSERIAL PRIMARY KEY,
	hall_id BIGINT NOT NULL REFERENCES halls(id),
	customer_name TEXT NOT NULL,
	customer_phone TEXT NOT NULL,
	customer_email TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	duration_hours INTEGER NOT NULL,
	total_price BIGINT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'new',
	status_reason TEXT NOT NULL DEFAULT '',
	changed_by TEXT NOT NULL DEFAULT '',
	changed_by_role TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (start_time < end_time)
);

CREATE TABLE IF NOT EXISTS blocked_slots (
	id BIGSERIAL PRIMARY KEY,
	hall_id BIGINT NOT NULL REFERENCES halls(id),
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (start_time < end_time)
);

CREATE TABLE IF NOT EXISTS staff (
	principal_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	added_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reservations_hall_times ON reservations(hall_id, start_time, end_time);
CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status);
CREATE INDEX IF NOT EXISTS idx_blocked_slots_hall_times ON blocked_slots(hall_id, start_time, end_time) WHERE is_active;
`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// AuditTableNames are exported in the monthly audit report.
var AuditTableNames = []string{"halls", "reservations", "blocked_slots", "staff"}

func (s *Store) GetTableNames(ctx context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// GetTableData returns all rows of an audit table as column maps.
func (s *Store) GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error) {
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

	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY 1", tableName))
	if err != nil {
		return nil, nil, classify(err)
	}
	defer rows.Close()

	var columns []string
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, columns, classify(rows.Err())
}
