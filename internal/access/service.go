// Package access answers "what role does this principal have" for the
// HTTP API and the staff bot. Owners come from configuration, staff from
// the staff table.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gaia/internal/model"

	"github.com/rs/zerolog"
)

// StaffRepository persists staff members.
type StaffRepository interface {
	GetStaff(ctx context.Context, principalID string) (*model.StaffMember, error)
	UpsertStaff(ctx context.Context, m model.StaffMember) error
	RemoveStaff(ctx context.Context, principalID string) (bool, error)
	ListStaff(ctx context.Context) ([]model.StaffMember, error)
}

// Service implements the admin identity lookup.
type Service struct {
	owners map[string]struct{}
	staff  StaffRepository
	logger zerolog.Logger
}

func NewService(owners []string, staff StaffRepository, logger zerolog.Logger) *Service {
	set := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = struct{}{}
		}
	}
	return &Service{
		owners: set,
		staff:  staff,
		logger: logger.With().Str("component", "access").Logger(),
	}
}

// Role returns the role of principalID. Unknown principals get RoleNone.
func (s *Service) Role(ctx context.Context, principalID string) (model.Role, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return model.RoleNone, nil
	}
	if _, ok := s.owners[principalID]; ok {
		return model.RoleOwner, nil
	}
	m, err := s.staff.GetStaff(ctx, principalID)
	if err != nil {
		return model.RoleNone, fmt.Errorf("lookup staff %s: %w", principalID, err)
	}
	if m == nil {
		return model.RoleNone, nil
	}
	return m.Role, nil
}

// Require returns an *AccessDeniedError unless principalID has at least min.
func (s *Service) Require(ctx context.Context, principalID string, min model.Role) (model.Role, error) {
	role, err := s.Role(ctx, principalID)
	if err != nil {
		return model.RoleNone, err
	}
	if !role.AtLeast(min) {
		reason := "Эта команда доступна только сотрудникам."
		if min == model.RoleOwner {
			reason = "Эта команда доступна только владельцу."
		}
		return role, &AccessDeniedError{PrincipalID: principalID, Role: role, Reason: reason}
	}
	return role, nil
}

// AddStaff grants the staff role. Only owners may do it.
func (s *Service) AddStaff(ctx context.Context, principalID, name, addedBy string) error {
	if _, err := s.Require(ctx, addedBy, model.RoleOwner); err != nil {
		return err
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return errors.New("principal id is required")
	}
	if err := s.staff.UpsertStaff(ctx, model.StaffMember{
		PrincipalID: principalID,
		Name:        name,
		Role:        model.RoleStaff,
		AddedBy:     addedBy,
	}); err != nil {
		return err
	}

	s.logger.Info().
		Str("principal_id", principalID).
		Str("added_by", addedBy).
		Msg("staff added")
	return nil
}

// RemoveStaff revokes the staff role. It reports whether a record existed.
func (s *Service) RemoveStaff(ctx context.Context, principalID, removedBy string) (bool, error) {
	if _, err := s.Require(ctx, removedBy, model.RoleOwner); err != nil {
		return false, err
	}
	removed, err := s.staff.RemoveStaff(ctx, principalID)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info().
			Str("principal_id", principalID).
			Str("removed_by", removedBy).
			Msg("staff removed")
	}
	return removed, nil
}

func (s *Service) ListStaff(ctx context.Context) ([]model.StaffMember, error) {
	return s.staff.ListStaff(ctx)
}

// AccessDeniedError is returned when a principal lacks the required role.
type AccessDeniedError struct {
	PrincipalID string
	Role        model.Role
	Reason      string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
