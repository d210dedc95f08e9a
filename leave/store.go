/*
store.go - Persistence interfaces consumed by the leave core

PURPOSE:
  Defines the boundary between the domain logic and the database. The core
  holds no cross-call state; every mutating operation re-reads rows inside
  a transaction, re-validates, and writes back with a version check.

KEY INTERFACES:
  Store:   Row-level reads and versioned writes plus the append-only history
  TxStore: Wraps Store operations in an atomic transaction

VERSIONED WRITES:
  SaveApplication and SaveBalance compare the row's Version against the
  stored one. A mismatch returns ErrVersionConflict and writes nothing.
  On success the store increments Version on the passed struct so callers
  see the committed state.

HISTORY CONTRACT:
  AppendHistory is the only write on history. There is no update or delete;
  corrections happen through new entries.

IMPLEMENTATIONS:
  - store/sqlite: production store, SQL transactions with rollback
  - leave/store: in-memory store for tests and development

SEE ALSO:
  - workflow.go, ledger.go: Consume these interfaces
*/
package leave

import "context"

// =============================================================================
// STORE - Row access within one transaction
// =============================================================================

// Store is the persistence gateway. Methods that take a pointer write the
// committed Version back into the struct.
type Store interface {
	// GetLeaveType returns a leave type or ErrLeaveTypeNotFound.
	GetLeaveType(ctx context.Context, id string) (*Type, error)
	ListLeaveTypes(ctx context.Context) ([]Type, error)
	SaveLeaveType(ctx context.Context, t *Type) error

	// CreateApplication inserts a new application row.
	CreateApplication(ctx context.Context, app *Application) error

	// GetApplication returns an application or ErrApplicationNotFound.
	GetApplication(ctx context.Context, id string) (*Application, error)

	// SaveApplication writes an existing row. Returns ErrVersionConflict
	// if the stored version differs from app.Version.
	SaveApplication(ctx context.Context, app *Application) error

	// ListApplicationsByUser returns the user's applications, newest first.
	ListApplicationsByUser(ctx context.Context, userID string) ([]Application, error)

	// ListApplicationsByStatus returns applications in the given status,
	// oldest first (approver queue ordering).
	ListApplicationsByStatus(ctx context.Context, status Status) ([]Application, error)

	// GetBalance returns the ledger row for key, or nil if none exists yet.
	GetBalance(ctx context.Context, key BalanceKey) (*Balance, error)

	// CreateBalance inserts a new ledger row.
	CreateBalance(ctx context.Context, b *Balance) error

	// SaveBalance writes an existing ledger row with a version check,
	// same contract as SaveApplication.
	SaveBalance(ctx context.Context, b *Balance) error

	// AppendHistory appends an immutable audit entry.
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	// HistoryByApplication returns entries for an application, oldest first.
	HistoryByApplication(ctx context.Context, applicationID string) ([]HistoryEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore executes a function atomically. If fn returns an error the
// transaction rolls back and nothing fn wrote is visible.
type TxStore interface {
	Store

	// WithTx runs fn against a transaction-scoped Store.
	WithTx(ctx context.Context, fn func(Store) error) error
}
