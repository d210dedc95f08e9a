package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlashr/leave-engine/leave"
	"github.com/atlashr/leave-engine/leave/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*leave.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	twelve := decimal.NewFromInt(12)
	ten := decimal.NewFromInt(10)
	for _, typ := range []leave.Type{
		{ID: "casual", Name: "Casual Leave", MaxDays: &twelve, FixedAllocation: true},
		{ID: "sick", Name: "Sick Leave", MaxDays: &ten},
		{ID: "unpaid", Name: "Unpaid Leave"},
	} {
		typ := typ
		require.NoError(t, mem.SaveLeaveType(ctx, &typ))
	}

	return leave.NewLedger(mem), mem
}

func key(userID, typeID string) leave.BalanceKey {
	return leave.BalanceKey{UserID: userID, LeaveTypeID: typeID, Year: 2025}
}

// =============================================================================
// LAZY SEEDING
// =============================================================================

func TestBalance_FirstReference_SeedsAllotment(t *testing.T) {
	ledger, _ := newTestLedger(t)

	b, err := ledger.Balance(context.Background(), key("u1", "casual"))
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(12)))

	// Uncapped types seed at zero; days accrue only through credits.
	b, err = ledger.Balance(context.Background(), key("u1", "unpaid"))
	require.NoError(t, err)
	assert.True(t, b.Days.IsZero())
}

func TestBalance_UnknownLeaveType(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Balance(context.Background(), key("u1", "sabbatical"))
	assert.ErrorIs(t, err, leave.ErrLeaveTypeNotFound)
}

func TestBalance_SeparateYearsSeparateRows(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, key("u1", "casual"), decimal.NewFromInt(5), hodSci, "ref-1")
	require.NoError(t, err)

	next := leave.BalanceKey{UserID: "u1", LeaveTypeID: "casual", Year: 2026}
	b, err := ledger.Balance(ctx, next)
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(12)), "the new year starts fresh")
}

// =============================================================================
// DEBIT
// =============================================================================

func TestDebit_ReducesBalance(t *testing.T) {
	ledger, mem := newTestLedger(t)
	ctx := context.Background()

	b, err := ledger.Debit(ctx, key("u1", "casual"), decimal.NewFromFloat(2.5), principal, "app-1")
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromFloat(9.5)))

	entries, err := mem.HistoryByApplication(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, leave.ActionBalanceDebited, entries[0].Action)
	assert.Equal(t, principal.ID, entries[0].ActorID)
}

func TestDebit_NeverGoesNegative(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, key("u1", "casual"), decimal.NewFromInt(13), principal, "app-1")
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	var insufficient *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(12)))
	assert.True(t, insufficient.Requested.Equal(decimal.NewFromInt(13)))
	assert.True(t, insufficient.Shortfall().Equal(decimal.NewFromInt(1)))

	// The failed debit left the row untouched.
	b, err := ledger.Balance(ctx, key("u1", "casual"))
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(12)))
}

func TestDebit_RejectsInvalidAmounts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for name, amount := range map[string]decimal.Decimal{
		"zero":           decimal.Zero,
		"negative":       decimal.NewFromInt(-1),
		"quarter day":    decimal.NewFromFloat(1.25),
		"tenth of a day": decimal.NewFromFloat(0.1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.Debit(ctx, key("u1", "casual"), amount, principal, "app-1")
			assert.ErrorIs(t, err, leave.ErrValidation)
		})
	}
}

func TestDebit_Concurrent_ExactlyOneOverdrawFails(t *testing.T) {
	// GIVEN: A balance of 5 days
	// WHEN: Two debits of 3 days race
	// THEN: One commits, the other overdraws and fails; final balance is 2

	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, key("u1", "casual"), decimal.NewFromInt(7), principal, "setup")
	require.NoError(t, err)

	three := decimal.NewFromInt(3)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Debit(ctx, key("u1", "casual"), three, principal, "race")
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, leave.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	b, err := ledger.Balance(ctx, key("u1", "casual"))
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(2)))
}

// =============================================================================
// CREDIT
// =============================================================================

func TestCredit_RestoresDebitedDays(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, key("u1", "casual"), decimal.NewFromInt(4), principal, "app-1")
	require.NoError(t, err)

	b, err := ledger.Credit(ctx, key("u1", "casual"), decimal.NewFromInt(4), admin, "app-1")
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(12)))
}

func TestCredit_CappedTypeClampsAtAllotment(t *testing.T) {
	ledger, _ := newTestLedger(t)

	b, err := ledger.Credit(context.Background(), key("u1", "sick"), decimal.NewFromInt(5), admin, "")
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(10)), "never above the allotment")
}

func TestCredit_UncappedTypeAccrues(t *testing.T) {
	ledger, _ := newTestLedger(t)

	b, err := ledger.Credit(context.Background(), key("u1", "unpaid"), decimal.NewFromInt(5), admin, "")
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromInt(5)))
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust_RequiresAdmin(t *testing.T) {
	ledger, _ := newTestLedger(t)

	for _, actor := range []leave.Actor{staffSci, hodSci, principal} {
		_, err := ledger.Adjust(context.Background(), key("u1", "sick"), decimal.NewFromInt(8), actor)
		assert.ErrorIs(t, err, leave.ErrAuthorization, "role %s", actor.Role)
	}
}

func TestAdjust_OverwritesBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	b, err := ledger.Adjust(ctx, key("u1", "sick"), decimal.NewFromFloat(7.5), admin)
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromFloat(7.5)))

	b, err = ledger.Balance(ctx, key("u1", "sick"))
	require.NoError(t, err)
	assert.True(t, b.Days.Equal(decimal.NewFromFloat(7.5)))
}

func TestAdjust_FixedAllocation_PolicyError(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Adjust(context.Background(), key("u1", "casual"), decimal.NewFromInt(20), admin)
	assert.ErrorIs(t, err, leave.ErrPolicy)

	var policy *leave.PolicyError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "casual", policy.LeaveTypeID)
}

func TestAdjust_RejectsNegativeAndMisaligned(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, key("u1", "sick"), decimal.NewFromInt(-1), admin)
	assert.ErrorIs(t, err, leave.ErrValidation)

	_, err = ledger.Adjust(ctx, key("u1", "sick"), decimal.NewFromFloat(3.3), admin)
	assert.ErrorIs(t, err, leave.ErrValidation)
}
