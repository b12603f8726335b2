package access

import (
	"context"
	"errors"
	"testing"

	"gaia/internal/memstore"
	"gaia/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestService_Roles(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService([]string{"100", " "}, store, zerolog.Nop())

	role, err := svc.Role(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, model.RoleOwner, role)

	role, err = svc.Role(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, model.RoleNone, role)

	role, err = svc.Role(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleNone, role)

	require.NoError(t, svc.AddStaff(ctx, "200", "Мария", "100"))
	role, err = svc.Role(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, role)

	_, err = svc.Require(ctx, "200", model.RoleStaff)
	assert.NoError(t, err)
	_, err = svc.Require(ctx, "200", model.RoleOwner)
	assert.True(t, IsAccessDenied(err))

	list, err := svc.ListStaff(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "100", list[0].AddedBy)
}

func TestService_OnlyOwnersManageStaff(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewService([]string{"1"}, store, zerolog.Nop())
	require.NoError(t, svc.AddStaff(ctx, "2", "", "1"))

	err := svc.AddStaff(ctx, "3", "", "2")
	var denied *AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, model.RoleStaff, denied.Role)

	_, err = svc.RemoveStaff(ctx, "2", "2")
	assert.True(t, IsAccessDenied(err))

	removed, err := svc.RemoveStaff(ctx, "2", "1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = svc.RemoveStaff(ctx, "2", "1")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Error(t, svc.AddStaff(ctx, " ", "", "1"))
}

type mockStaffRepo struct {
	mock.Mock
}

func (m *mockStaffRepo) GetStaff(ctx context.Context, id string) (*model.StaffMember, error) {
	args := m.Called(ctx, id)
	sm, _ := args.Get(0).(*model.StaffMember)
	return sm, args.Error(1)
}

func (m *mockStaffRepo) UpsertStaff(ctx context.Context, sm model.StaffMember) error {
	return m.Called(ctx, sm).Error(0)
}

func (m *mockStaffRepo) RemoveStaff(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockStaffRepo) ListStaff(ctx context.Context) ([]model.StaffMember, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]model.StaffMember)
	return list, args.Error(1)
}

func TestService_RepositoryErrorIsNotADenial(t *testing.T) {
	repo := &mockStaffRepo{}
	boom := errors.New("db down")
	repo.On("GetStaff", mock.Anything, "5").Return(nil, boom)

	svc := NewService(nil, repo, zerolog.Nop())
	_, err := svc.Require(context.Background(), "5", model.RoleStaff)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsAccessDenied(err))
	repo.AssertExpectations(t)
}
