/*
Package leave implements the leave-approval workflow core.

PURPOSE:
  This package contains the domain types and algorithms for tracking leave
  applications through their approval lifecycle, together with the balance
  ledger that records how many days each user has left per leave type and
  year.

KEY CONCEPTS IN THIS FILE (types.go):
  - Actor: An authenticated caller with a role and department
  - Type: A leave category (Casual, Sick, ...) with its allotment policy
  - Application: A single leave request moving through the state machine
  - Balance: Remaining days for a (user, leave type, year) key
  - HistoryEntry: An immutable audit row appended on every transition

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for day counts, half-day granularity
     without floating-point drift
  2. Closed transitions: the state machine table in this file is the only
     source of legal status changes
  3. Optimistic concurrency: Application and Balance carry a Version that
     stores check on write
  4. Auditability: one HistoryEntry per transition, append-only

SEE ALSO:
  - workflow.go: Submit/Decide/Cancel lifecycle operations
  - ledger.go: Balance debit/credit/adjust
  - approval.go: Role- and department-scoped authorization rules
  - store.go: Persistence interfaces
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES AND ACTORS
// =============================================================================

// Role is the organizational role an actor holds. Roles are closed: the
// approval chain only ever inspects the four values below.
type Role string

const (
	RoleStaff     Role = "staff"
	RoleHOD       Role = "hod"       // head of department, first-stage approver
	RolePrincipal Role = "principal" // final approver, organization-wide
	RoleAdmin     Role = "admin"     // ledger administration only, never approves
)

// Actor is an already-authenticated caller. Authentication happens outside
// this package; the core only performs authorization against Role and
// Department.
type Actor struct {
	ID         string
	Role       Role
	Department string
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

// Type is a leave category with its annual allotment policy.
//
// FixedAllocation types (e.g. Casual Leave at 12/year) always carry exactly
// their configured allotment: the balance is seeded from MaxDays and cannot
// be adjusted manually.
type Type struct {
	ID   string
	Name string

	// MaxDays caps the annual allotment. Nil means uncapped: requests
	// against the type are never balance-checked.
	MaxDays *decimal.Decimal

	// FixedAllocation marks the allotment as a constant. Adjust on such a
	// type fails with PolicyError.
	FixedAllocation bool

	CreatedAt time.Time
}

// Capped reports whether requests against this type are balance-checked.
func (t Type) Capped() bool { return t.MaxDays != nil }

// Allotment returns the balance a fresh year starts with.
func (t Type) Allotment() decimal.Decimal {
	if t.MaxDays == nil {
		return decimal.Zero
	}
	return *t.MaxDays
}

// =============================================================================
// APPLICATION - A leave request and its lifecycle state
// =============================================================================

type Status string

const (
	StatusPending           Status = "pending"
	StatusHODApproved       Status = "hod_approved"
	StatusPrincipalApproved Status = "principal_approved"
	StatusRejected          Status = "rejected"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusPrincipalApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Decision is an approver's verdict on an application.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Application is a single leave request. Mutated only through Workflow
// operations; never deleted, only moved to a terminal status.
type Application struct {
	ID          string
	UserID      string
	LeaveTypeID string

	// Snapshot of the applicant at submission time. The approval chain is
	// scoped to these, not to whatever the user record says later.
	Department    string
	ApplicantRole Role

	StartDate time.Time
	EndDate   time.Time

	// Days is the computed span in days. Half-day markers on either end
	// make this a multiple of 0.5 rather than a whole number.
	Days decimal.Decimal

	Reason string
	Status Status

	HODApprovedBy       string
	HODApprovedAt       *time.Time
	PrincipalApprovedBy string
	PrincipalApprovedAt *time.Time
	RejectedBy          string
	RejectedAt          *time.Time
	RejectionReason     string

	// Version implements optimistic locking. Stores reject writes whose
	// version does not match the stored row.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSITION TABLE - The only legal status changes
// =============================================================================

// transition identifies one edge of the state machine.
type transition struct {
	From Status
	To   Status
}

// transitions enumerates every legal edge. Decide and Cancel refuse anything
// not listed here, so illegal paths are unreachable by construction.
var transitions = map[transition]bool{
	{StatusPending, StatusHODApproved}:           true,
	{StatusPending, StatusRejected}:              true,
	{StatusPending, StatusCancelled}:             true,
	{StatusHODApproved, StatusPrincipalApproved}: true,
	{StatusHODApproved, StatusRejected}:          true,
	{StatusHODApproved, StatusCancelled}:         true,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	return transitions[transition{From: from, To: to}]
}

// nextStatus maps (current status, decision) to the resulting status.
// Returns "" when the decision does not apply to the current status.
func nextStatus(current Status, d Decision) Status {
	switch {
	case current == StatusPending && d == DecisionApprove:
		return StatusHODApproved
	case current == StatusPending && d == DecisionReject:
		return StatusRejected
	case current == StatusHODApproved && d == DecisionApprove:
		return StatusPrincipalApproved
	case current == StatusHODApproved && d == DecisionReject:
		return StatusRejected
	}
	return ""
}

// =============================================================================
// BALANCE - Remaining days per (user, leave type, year)
// =============================================================================

// BalanceKey identifies one ledger row.
type BalanceKey struct {
	UserID      string
	LeaveTypeID string
	Year        int
}

// Balance is a ledger row. Invariant: Days >= 0 at all times. Rows are
// created lazily on first reference, seeded with the type's allotment.
type Balance struct {
	UserID      string
	LeaveTypeID string
	Year        int
	Days        decimal.Decimal

	// Version implements optimistic locking, same contract as Application.
	Version int

	UpdatedAt time.Time
}

// Key returns the ledger key for this row.
func (b *Balance) Key() BalanceKey {
	return BalanceKey{UserID: b.UserID, LeaveTypeID: b.LeaveTypeID, Year: b.Year}
}

// =============================================================================
// HISTORY - Append-only audit trail
// =============================================================================

type HistoryAction string

const (
	ActionSubmitted       HistoryAction = "submitted"
	ActionApproved        HistoryAction = "approved"
	ActionRejected        HistoryAction = "rejected"
	ActionCancelled       HistoryAction = "cancelled"
	ActionBalanceDebited  HistoryAction = "balance_debited"
	ActionBalanceCredited HistoryAction = "balance_credited"
	ActionBalanceAdjusted HistoryAction = "balance_adjusted"
)

// HistoryEntry records who did what to an application or balance. Entries
// are immutable once written; the Store exposes no update or delete.
type HistoryEntry struct {
	ID             string
	ApplicationID  string // empty for pure ledger actions
	Action         HistoryAction
	ActorID        string
	PreviousStatus Status
	NewStatus      Status
	Comments       string
	CreatedAt      time.Time
}
