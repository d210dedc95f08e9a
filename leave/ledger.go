/*
ledger.go - Balance ledger

PURPOSE:
  Owns the per-user, per-leave-type, per-year day counts. The ledger is
  the only code that mutates Balance rows, and it does so exclusively
  inside store transactions with versioned writes, so concurrent debits on
  the same key serialize and the invariant Days >= 0 holds under every
  interleaving.

LAZY ROWS:
  A Balance row is created on first reference, seeded with the leave
  type's allotment. There is no bulk provisioning step.

FIXED ALLOCATIONS:
  Fixed-allocation types (Casual Leave at 12/year) refuse Adjust with a
  PolicyError. Their balance still moves through Debit/Credit, which is
  how approved leave is recorded; "fixed" means not manually settable.

AUDIT:
  Every mutation appends a HistoryEntry tagged with the acting identity.
  The balance row alone never has to explain itself.

SEE ALSO:
  - workflow.go: Debits inside the approval transaction via debitBalance
  - store.go: Versioned write contract
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxRetries bounds internal retries on version conflicts before the
// conflict surfaces to the caller.
const maxRetries = 3

// Ledger exposes balance operations. All methods are safe for concurrent
// use; serialization happens through the store's transactions.
type Ledger struct {
	store TxStore
	now   func() time.Time
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Balance returns the ledger row for the key, creating it with the type's
// allotment if this is the first reference.
func (l *Ledger) Balance(ctx context.Context, key BalanceKey) (*Balance, error) {
	var out *Balance
	err := l.withRetry(ctx, func(s Store) error {
		typ, err := s.GetLeaveType(ctx, key.LeaveTypeID)
		if err != nil {
			return err
		}
		b, err := getOrCreateBalance(ctx, s, typ, key, l.now())
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Debit subtracts days from the balance. Fails with InsufficientBalanceError
// when the freshly read balance cannot cover the amount; the row is then
// left untouched.
func (l *Ledger) Debit(ctx context.Context, key BalanceKey, days decimal.Decimal, actor Actor, reference string) (*Balance, error) {
	if err := validateAmount(days); err != nil {
		return nil, err
	}
	var out *Balance
	err := l.withRetry(ctx, func(s Store) error {
		typ, err := s.GetLeaveType(ctx, key.LeaveTypeID)
		if err != nil {
			return err
		}
		b, err := debitBalance(ctx, s, typ, key, days, actor.ID, reference, l.now())
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Credit adds days back, reversing a prior debit. Capped types never rise
// above their allotment, so a legitimate reversal restores at most the
// seeded amount.
func (l *Ledger) Credit(ctx context.Context, key BalanceKey, days decimal.Decimal, actor Actor, reference string) (*Balance, error) {
	if err := validateAmount(days); err != nil {
		return nil, err
	}
	var out *Balance
	err := l.withRetry(ctx, func(s Store) error {
		typ, err := s.GetLeaveType(ctx, key.LeaveTypeID)
		if err != nil {
			return err
		}
		now := l.now()
		b, err := getOrCreateBalance(ctx, s, typ, key, now)
		if err != nil {
			return err
		}

		b.Days = b.Days.Add(days)
		if typ.Capped() && b.Days.GreaterThan(typ.Allotment()) {
			b.Days = typ.Allotment()
		}
		b.UpdatedAt = now
		if err := s.SaveBalance(ctx, b); err != nil {
			return err
		}

		entry := HistoryEntry{
			ID:            uuid.NewString(),
			ApplicationID: reference,
			Action:        ActionBalanceCredited,
			ActorID:       actor.ID,
			Comments:      fmt.Sprintf("credited %s days, balance now %s", days, b.Days),
			CreatedAt:     now,
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Adjust overwrites the balance. Only administrative roles may call it, and
// fixed-allocation types refuse it outright. The overwrite is audited with
// the actor's identity.
func (l *Ledger) Adjust(ctx context.Context, key BalanceKey, newValue decimal.Decimal, actor Actor) (*Balance, error) {
	if actor.Role != RoleAdmin {
		return nil, &AuthorizationError{
			ActorID: actor.ID,
			Rule:    RuleAdminExcluded,
			Reason:  "balance adjustment requires an administrative role",
		}
	}
	if newValue.IsNegative() {
		return nil, &ValidationError{Field: "balance", Reason: "balance cannot be negative"}
	}
	if !halfDayAligned(newValue) {
		return nil, &ValidationError{Field: "balance", Reason: "balance must be a multiple of 0.5"}
	}

	var out *Balance
	err := l.withRetry(ctx, func(s Store) error {
		typ, err := s.GetLeaveType(ctx, key.LeaveTypeID)
		if err != nil {
			return err
		}
		if typ.FixedAllocation {
			return &PolicyError{
				LeaveTypeID: typ.ID,
				Reason:      "fixed-allocation balances cannot be adjusted manually",
			}
		}

		now := l.now()
		b, err := getOrCreateBalance(ctx, s, typ, key, now)
		if err != nil {
			return err
		}

		previous := b.Days
		b.Days = newValue
		b.UpdatedAt = now
		if err := s.SaveBalance(ctx, b); err != nil {
			return err
		}

		entry := HistoryEntry{
			ID:        uuid.NewString(),
			Action:    ActionBalanceAdjusted,
			ActorID:   actor.ID,
			Comments:  fmt.Sprintf("balance set from %s to %s", previous, newValue),
			CreatedAt: now,
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// =============================================================================
// TRANSACTION-SCOPED HELPERS (shared with workflow.go)
// =============================================================================

// getOrCreateBalance loads the row for key or seeds it with the type's
// allotment. Runs inside an existing transaction.
func getOrCreateBalance(ctx context.Context, s Store, typ *Type, key BalanceKey, now time.Time) (*Balance, error) {
	b, err := s.GetBalance(ctx, key)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b, nil
	}

	b = &Balance{
		UserID:      key.UserID,
		LeaveTypeID: key.LeaveTypeID,
		Year:        key.Year,
		Days:        typ.Allotment(),
		UpdatedAt:   now,
	}
	if err := s.CreateBalance(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// debitBalance re-reads, validates, and decrements inside an existing
// transaction, appending the audit entry. The non-negativity check happens
// against the freshly read row, which is what closes the double-spend race.
func debitBalance(ctx context.Context, s Store, typ *Type, key BalanceKey, days decimal.Decimal, actorID, reference string, now time.Time) (*Balance, error) {
	b, err := getOrCreateBalance(ctx, s, typ, key, now)
	if err != nil {
		return nil, err
	}

	if b.Days.LessThan(days) {
		return nil, &InsufficientBalanceError{Key: key, Available: b.Days, Requested: days}
	}

	b.Days = b.Days.Sub(days)
	b.UpdatedAt = now
	if err := s.SaveBalance(ctx, b); err != nil {
		return nil, err
	}

	entry := HistoryEntry{
		ID:            uuid.NewString(),
		ApplicationID: reference,
		Action:        ActionBalanceDebited,
		ActorID:       actorID,
		Comments:      fmt.Sprintf("debited %s days, balance now %s", days, b.Days),
		CreatedAt:     now,
	}
	if err := s.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}
	return b, nil
}

// withRetry runs fn in a transaction, retrying bounded times on version
// conflicts. Exhausted retries surface as ErrStateConflict.
func (l *Ledger) withRetry(ctx context.Context, fn func(Store) error) error {
	return runWithRetry(ctx, l.store, fn)
}

func validateAmount(days decimal.Decimal) error {
	if !days.IsPositive() {
		return &ValidationError{Field: "days", Reason: "amount must be positive"}
	}
	if !halfDayAligned(days) {
		return &ValidationError{Field: "days", Reason: "amount must be a multiple of 0.5"}
	}
	return nil
}

func halfDayAligned(d decimal.Decimal) bool {
	return d.Mod(half).IsZero()
}
