package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/medaudit/internal/clock"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	rosterrepo "github.com/smallbiznis/medaudit/internal/roster/repository"
	rosterservice "github.com/smallbiznis/medaudit/internal/roster/service"
	"github.com/smallbiznis/medaudit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAuthorization(t *testing.T) (Service, rosterdomain.Service) {
	t.Helper()
	db := testutil.NewDB(t)
	roster := rosterservice.New(rosterservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(testutil.BaseTime),
		Repo:  rosterrepo.Provide(),
	})
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, Roster: roster}), roster
}

func upsert(t *testing.T, roster rosterdomain.Service, id string, active bool, roles ...rosterdomain.Role) {
	t.Helper()
	_, err := roster.Upsert(context.Background(), rosterdomain.UpsertRequest{
		ID:            id,
		Name:          id,
		Roles:         roles,
		DailyCapacity: 5,
		Active:        active,
	})
	require.NoError(t, err)
}

func TestAuthorizeSeededPolicies(t *testing.T) {
	svc, roster := setupAuthorization(t)
	ctx := context.Background()
	upsert(t, roster, "conc-1", true, rosterdomain.RoleConciliator)
	upsert(t, roster, "coord-1", true, rosterdomain.RoleCoordinator)
	upsert(t, roster, "med-1", true, rosterdomain.RoleMedicalAuditor)

	cases := []struct {
		name   string
		actor  string
		object string
		action string
		err    error
	}{
		{"conciliator decides", "conc-1", ObjectGlosa, ActionGlosaDecide, nil},
		{"conciliator cannot batch", "conc-1", ObjectAssignment, ActionAssignmentBatch, ErrForbidden},
		{"coordinator batches", "coord-1", ObjectAssignment, ActionAssignmentBatch, nil},
		{"auditor cannot decide", "med-1", ObjectGlosa, ActionGlosaDecide, ErrForbidden},
		{"auditor releases", "med-1", ObjectAssignment, ActionAssignmentRelease, nil},
		{"conciliator cannot release", "conc-1", ObjectAssignment, ActionAssignmentRelease, ErrForbidden},
		{"unknown actor", "ghost", ObjectGlosa, ActionGlosaDecide, ErrForbidden},
		{"empty actor", " ", ObjectGlosa, ActionGlosaDecide, ErrInvalidActor},
		{"empty action", "conc-1", ObjectGlosa, "", ErrInvalidAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestAuthorizeFollowsRosterChanges(t *testing.T) {
	svc, roster := setupAuthorization(t)
	ctx := context.Background()

	upsert(t, roster, "aud-1", true, rosterdomain.RoleConciliator)
	require.NoError(t, svc.Authorize(ctx, "aud-1", ObjectGlosa, ActionGlosaDecide))

	upsert(t, roster, "aud-1", true, rosterdomain.RoleMedicalAuditor)
	assert.ErrorIs(t, svc.Authorize(ctx, "aud-1", ObjectGlosa, ActionGlosaDecide), ErrForbidden)

	upsert(t, roster, "aud-1", false, rosterdomain.RoleConciliator)
	assert.ErrorIs(t, svc.Authorize(ctx, "aud-1", ObjectGlosa, ActionGlosaDecide), ErrForbidden)
}

func TestNewEnforcerSeedsOnce(t *testing.T) {
	db := testutil.NewDB(t)

	first, err := NewEnforcer(db)
	require.NoError(t, err)
	second, err := NewEnforcer(db)
	require.NoError(t, err)

	firstPolicies, err := first.GetPolicy()
	require.NoError(t, err)
	secondPolicies, err := second.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, secondPolicies, 2)
	assert.ElementsMatch(t, firstPolicies, secondPolicies)
}
