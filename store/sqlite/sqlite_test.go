package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlashr/leave-engine/leave"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "leave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	twelve := decimal.NewFromInt(12)
	require.NoError(t, s.SaveLeaveType(context.Background(), &leave.Type{
		ID:              "casual",
		Name:            "Casual Leave",
		MaxDays:         &twelve,
		FixedAllocation: true,
	}))
	return s
}

func testApplication(id string) *leave.Application {
	now := time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)
	return &leave.Application{
		ID:            id,
		UserID:        "u1",
		LeaveTypeID:   "casual",
		Department:    "science",
		ApplicantRole: leave.RoleStaff,
		StartDate:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		Days:          decimal.NewFromInt(3),
		Reason:        "personal",
		Status:        leave.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func TestLeaveTypeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	typ, err := s.GetLeaveType(ctx, "casual")
	require.NoError(t, err)
	assert.Equal(t, "Casual Leave", typ.Name)
	require.NotNil(t, typ.MaxDays)
	assert.True(t, typ.MaxDays.Equal(decimal.NewFromInt(12)))
	assert.True(t, typ.FixedAllocation)

	_, err = s.GetLeaveType(ctx, "sabbatical")
	assert.ErrorIs(t, err, leave.ErrLeaveTypeNotFound)
}

func TestSaveLeaveType_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	five := decimal.NewFromInt(5)
	require.NoError(t, s.SaveLeaveType(ctx, &leave.Type{ID: "casual", Name: "Casual", MaxDays: &five}))

	typ, err := s.GetLeaveType(ctx, "casual")
	require.NoError(t, err)
	assert.Equal(t, "Casual", typ.Name)
	assert.True(t, typ.MaxDays.Equal(five))
	assert.False(t, typ.FixedAllocation)
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func TestApplicationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app := testApplication("app-1")
	require.NoError(t, s.CreateApplication(ctx, app))

	got, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, app.UserID, got.UserID)
	assert.Equal(t, app.Department, got.Department)
	assert.Equal(t, leave.RoleStaff, got.ApplicantRole)
	assert.True(t, got.StartDate.Equal(app.StartDate))
	assert.True(t, got.EndDate.Equal(app.EndDate))
	assert.True(t, got.Days.Equal(app.Days))
	assert.Equal(t, leave.StatusPending, got.Status)
	assert.Equal(t, 0, got.Version)
	assert.Nil(t, got.HODApprovedAt)
	assert.Nil(t, got.RejectedAt)
}

func TestGetApplication_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetApplication(context.Background(), "missing")
	assert.ErrorIs(t, err, leave.ErrApplicationNotFound)
}

func TestSaveApplication_BumpsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app := testApplication("app-1")
	require.NoError(t, s.CreateApplication(ctx, app))

	now := time.Now().UTC()
	app.Status = leave.StatusHODApproved
	app.HODApprovedBy = "hod-1"
	app.HODApprovedAt = &now
	require.NoError(t, s.SaveApplication(ctx, app))
	assert.Equal(t, 1, app.Version)

	got, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusHODApproved, got.Status)
	assert.Equal(t, "hod-1", got.HODApprovedBy)
	require.NotNil(t, got.HODApprovedAt)
	assert.Equal(t, 1, got.Version)
}

func TestSaveApplication_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: Two readers holding the same version of an application
	// WHEN: Both write
	// THEN: The second write fails with ErrVersionConflict

	s := newTestStore(t)
	ctx := context.Background()

	app := testApplication("app-1")
	require.NoError(t, s.CreateApplication(ctx, app))

	first, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	second, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)

	first.Status = leave.StatusHODApproved
	require.NoError(t, s.SaveApplication(ctx, first))

	second.Status = leave.StatusRejected
	err = s.SaveApplication(ctx, second)
	assert.ErrorIs(t, err, leave.ErrVersionConflict)

	// The winning write is what persisted.
	got, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusHODApproved, got.Status)
}

func TestSaveApplication_Missing_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveApplication(context.Background(), testApplication("ghost"))
	assert.ErrorIs(t, err, leave.ErrApplicationNotFound)
}

func TestListApplications_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"app-a", "app-b", "app-c"} {
		app := testApplication(id)
		app.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		app.UpdatedAt = app.CreatedAt
		require.NoError(t, s.CreateApplication(ctx, app))
	}

	byUser, err := s.ListApplicationsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, byUser, 3)
	assert.Equal(t, "app-c", byUser[0].ID, "newest first")

	byStatus, err := s.ListApplicationsByStatus(ctx, leave.StatusPending)
	require.NoError(t, err)
	require.Len(t, byStatus, 3)
	assert.Equal(t, "app-a", byStatus[0].ID, "oldest first")
}

// =============================================================================
// BALANCES
// =============================================================================

func TestBalanceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := leave.BalanceKey{UserID: "u1", LeaveTypeID: "casual", Year: 2025}

	// Absent rows read as nil without error.
	b, err := s.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, b)

	b = &leave.Balance{
		UserID: "u1", LeaveTypeID: "casual", Year: 2025,
		Days:      decimal.NewFromInt(12),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateBalance(ctx, b))

	got, err := s.GetBalance(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Days.Equal(decimal.NewFromInt(12)))

	got.Days = decimal.NewFromFloat(9.5)
	require.NoError(t, s.SaveBalance(ctx, got))

	got, err = s.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Days.Equal(decimal.NewFromFloat(9.5)))
	assert.Equal(t, 1, got.Version)
}

func TestCreateBalance_Duplicate_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &leave.Balance{
		UserID: "u1", LeaveTypeID: "casual", Year: 2025,
		Days: decimal.NewFromInt(12), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateBalance(ctx, b))

	dup := *b
	err := s.CreateBalance(ctx, &dup)
	assert.ErrorIs(t, err, leave.ErrVersionConflict)
}

func TestSaveBalance_StaleVersion_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := leave.BalanceKey{UserID: "u1", LeaveTypeID: "casual", Year: 2025}

	b := &leave.Balance{
		UserID: "u1", LeaveTypeID: "casual", Year: 2025,
		Days: decimal.NewFromInt(12), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateBalance(ctx, b))

	first, err := s.GetBalance(ctx, key)
	require.NoError(t, err)
	second, err := s.GetBalance(ctx, key)
	require.NoError(t, err)

	first.Days = decimal.NewFromInt(9)
	require.NoError(t, s.SaveBalance(ctx, first))

	second.Days = decimal.NewFromInt(7)
	assert.ErrorIs(t, s.SaveBalance(ctx, second), leave.ErrVersionConflict)

	got, err := s.GetBalance(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Days.Equal(decimal.NewFromInt(9)))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx leave.Store) error {
		if err := tx.CreateApplication(ctx, testApplication("app-1")); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, leave.HistoryEntry{
			ID: "h-1", ApplicationID: "app-1", Action: leave.ActionSubmitted,
			ActorID: "u1", CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetApplication(ctx, "app-1")
	assert.ErrorIs(t, err, leave.ErrApplicationNotFound)

	entries, err := s.HistoryByApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx leave.Store) error {
		return tx.CreateApplication(ctx, testApplication("app-1"))
	})
	require.NoError(t, err)

	_, err = s.GetApplication(ctx, "app-1")
	assert.NoError(t, err)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_AppendOnlyOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateApplication(ctx, testApplication("app-1")))

	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	actions := []leave.HistoryAction{leave.ActionSubmitted, leave.ActionApproved, leave.ActionBalanceDebited}
	for i, action := range actions {
		require.NoError(t, s.AppendHistory(ctx, leave.HistoryEntry{
			ID:            "h-" + string(rune('a'+i)),
			ApplicationID: "app-1",
			Action:        action,
			ActorID:       "u1",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.HistoryByApplication(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, action := range actions {
		assert.Equal(t, action, entries[i].Action)
	}
}

// =============================================================================
// END TO END - the full chain over the SQL store
// =============================================================================

func TestWorkflowOverSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := leave.NewWorkflow(s, nil)
	ledger := leave.NewLedger(s)

	applicant := leave.Actor{ID: "u1", Role: leave.RoleStaff, Department: "science"}
	hod := leave.Actor{ID: "hod-1", Role: leave.RoleHOD, Department: "science"}
	principal := leave.Actor{ID: "p-1", Role: leave.RolePrincipal}

	app, err := wf.Submit(ctx, leave.SubmitInput{
		Actor:       applicant,
		LeaveTypeID: "casual",
		Span: leave.Span{
			Start: time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		},
		Reason: "personal",
	})
	require.NoError(t, err)

	_, err = wf.Decide(ctx, app.ID, hod, leave.DecisionApprove, "")
	require.NoError(t, err)
	app, err = wf.Decide(ctx, app.ID, principal, leave.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPrincipalApproved, app.Status)

	b, err := ledger.Balance(ctx, leave.BalanceKey{UserID: "u1", LeaveTypeID: "casual", Year: 2025})
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(9)))

	entries, err := s.HistoryByApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
