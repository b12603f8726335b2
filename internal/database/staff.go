package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gaia/internal/model"
)

// GetStaff returns the staff record of principalID, or nil if there is none.
func (db *DB) GetStaff(ctx context.Context, principalID string) (*model.StaffMember, error) {
	var (
		m       model.StaffMember
		role    string
		created int64
	)
	err := db.QueryRowContext(ctx,
		"SELECT principal_id, name, role, added_by, created_at FROM staff WHERE principal_id = ?",
		principalID,
	).Scan(&m.PrincipalID, &m.Name, &role, &m.AddedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	m.Role = model.Role(role)
	m.CreatedAt = fromUnix(created)
	return &m, nil
}

// UpsertStaff adds a staff member or updates the role of an existing one.
func (db *DB) UpsertStaff(ctx context.Context, m model.StaffMember) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO staff (principal_id, name, role, added_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			added_by = excluded.added_by`,
		m.PrincipalID, m.Name, string(m.Role), m.AddedBy, unix(m.CreatedAt),
	)
	return classify(err)
}

// RemoveStaff deletes the record and reports whether one existed.
func (db *DB) RemoveStaff(ctx context.Context, principalID string) (bool, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM staff WHERE principal_id = ?", principalID)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListStaff returns all staff members.
func (db *DB) ListStaff(ctx context.Context) ([]model.StaffMember, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT principal_id, name, role, added_by, created_at FROM staff ORDER BY created_at, principal_id",
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.StaffMember
	for rows.Next() {
		var (
			m       model.StaffMember
			role    string
			created int64
		)
		if err := rows.Scan(&m.PrincipalID, &m.Name, &role, &m.AddedBy, &created); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.CreatedAt = fromUnix(created)
		out = append(out, m)
	}
	return out, classify(rows.Err())
}
