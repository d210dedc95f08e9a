/*
workflow.go - Leave application state machine

PURPOSE:
  Owns the lifecycle of a leave application: submission, the two-stage
  approval chain, rejection, and cancellation. Each operation runs as one
  atomic store transaction that re-reads the affected rows, re-validates
  against the fresh state, writes the transition, and appends exactly one
  history row.

REQUEST FLOW:

  Submit ──▶ Pending ──HOD approve──▶ HODApproved ──Principal approve──▶ PrincipalApproved
                │                          │                                  (debits ledger)
                ├──────reject─────────────┤──▶ Rejected
                └──────cancel (owner)─────┴──▶ Cancelled

BALANCE POLICY:
  Days are debited only on the transition into PrincipalApproved. Pending
  and HOD-approved requests never touch the ledger, so a rejection or
  cancellation has no balance effect to undo. Submission still checks that
  a capped type could in principle cover the request, to fail obviously
  hopeless applications early.

CONCURRENCY:
  Two approvers deciding the same application race on the row version:
  one commit wins, the loser re-reads a terminal or advanced status and
  receives StateConflictError. Version conflicts are retried internally up
  to maxRetries before surfacing.

SEE ALSO:
  - approval.go: Who may act at each stage
  - ledger.go: The debit performed on final approval
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workflow orchestrates application lifecycle operations against a
// transactional store. Safe for concurrent use.
type Workflow struct {
	store TxStore
	log   *zap.Logger
	now   func() time.Time
}

// NewWorkflow creates a workflow service. A nil logger disables logging.
func NewWorkflow(store TxStore, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{store: store, log: log, now: time.Now}
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput carries a new application. The actor is the applicant; the
// application is owned by them and snapshots their role and department.
type SubmitInput struct {
	Actor       Actor
	LeaveTypeID string
	Span        Span
	Reason      string
}

// Submit validates the request and creates a Pending application with its
// first history entry. For capped leave types the current balance must be
// able to cover the span; the actual debit happens only on final approval.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (*Application, error) {
	if !CanApply(in.Actor.Role) {
		return nil, &AuthorizationError{
			ActorID: in.Actor.ID,
			Rule:    RuleApplicantRole,
			Reason:  "role may not submit leave applications",
		}
	}
	if err := in.Span.Validate(); err != nil {
		return nil, err
	}

	days := in.Span.Days()
	var out *Application
	err := w.run(ctx, "submit", func(s Store) error {
		typ, err := s.GetLeaveType(ctx, in.LeaveTypeID)
		if err != nil {
			return err
		}

		existing, err := s.ListApplicationsByUser(ctx, in.Actor.ID)
		if err != nil {
			return err
		}
		for i := range existing {
			if err := checkOverlap(&existing[i], in.Span); err != nil {
				return err
			}
		}

		now := w.now()
		if typ.Capped() {
			key := BalanceKey{UserID: in.Actor.ID, LeaveTypeID: typ.ID, Year: in.Span.Start.Year()}
			b, err := getOrCreateBalance(ctx, s, typ, key, now)
			if err != nil {
				return err
			}
			if b.Days.LessThan(days) {
				return &InsufficientBalanceError{Key: key, Available: b.Days, Requested: days}
			}
		}

		app := &Application{
			ID:            uuid.NewString(),
			UserID:        in.Actor.ID,
			LeaveTypeID:   typ.ID,
			Department:    in.Actor.Department,
			ApplicantRole: in.Actor.Role,
			StartDate:     truncateDay(in.Span.Start),
			EndDate:       truncateDay(in.Span.End),
			Days:          days,
			Reason:        in.Reason,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.CreateApplication(ctx, app); err != nil {
			return err
		}

		entry := HistoryEntry{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			Action:        ActionSubmitted,
			ActorID:       in.Actor.ID,
			NewStatus:     StatusPending,
			Comments:      in.Reason,
			CreatedAt:     now,
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			return err
		}
		out = app
		return nil
	})
	return out, err
}

// checkOverlap rejects spans that share a day with an application that is
// still in flight or already approved. Terminal rejections and
// cancellations do not block resubmission.
func checkOverlap(prior *Application, span Span) error {
	blocking := !prior.Status.Terminal() || prior.Status == StatusPrincipalApproved
	if !blocking {
		return nil
	}
	if Overlaps(span.Start, span.End, prior.StartDate, prior.EndDate) {
		return &ValidationError{
			Field:  "dates",
			Reason: fmt.Sprintf("overlaps existing application %s (%s)", prior.ID, prior.Status),
		}
	}
	return nil
}

// =============================================================================
// DECIDE
// =============================================================================

// Decide applies an approval or rejection. The application is re-read
// inside the transaction; authority and state are checked against what was
// just read, never against what the caller last saw.
func (w *Workflow) Decide(ctx context.Context, applicationID string, actor Actor, d Decision, comments string) (*Application, error) {
	if d != DecisionApprove && d != DecisionReject {
		return nil, &ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}
	if d == DecisionReject && comments == "" {
		return nil, &ValidationError{Field: "comments", Reason: "rejection requires a reason"}
	}

	var out *Application
	err := w.run(ctx, "decide", func(s Store) error {
		app, err := s.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Status.Terminal() {
			return &StateConflictError{ApplicationID: app.ID, Status: app.Status}
		}
		if err := Authorize(app, actor, d); err != nil {
			return err
		}

		to := nextStatus(app.Status, d)
		if to == "" || !CanTransition(app.Status, to) {
			return &StateConflictError{ApplicationID: app.ID, Status: app.Status}
		}

		now := w.now()
		from := app.Status
		switch to {
		case StatusHODApproved:
			app.HODApprovedBy = actor.ID
			app.HODApprovedAt = &now
		case StatusPrincipalApproved:
			app.PrincipalApprovedBy = actor.ID
			app.PrincipalApprovedAt = &now
		case StatusRejected:
			app.RejectedBy = actor.ID
			app.RejectedAt = &now
			app.RejectionReason = comments
		}
		app.Status = to
		app.UpdatedAt = now

		// Final approval is the only point that touches the ledger.
		if to == StatusPrincipalApproved {
			typ, err := s.GetLeaveType(ctx, app.LeaveTypeID)
			if err != nil {
				return err
			}
			if typ.Capped() {
				key := BalanceKey{UserID: app.UserID, LeaveTypeID: typ.ID, Year: app.StartDate.Year()}
				if _, err := debitBalance(ctx, s, typ, key, app.Days, actor.ID, app.ID, now); err != nil {
					return err
				}
			}
		}

		if err := s.SaveApplication(ctx, app); err != nil {
			return err
		}

		action := ActionApproved
		if to == StatusRejected {
			action = ActionRejected
		}
		entry := HistoryEntry{
			ID:             uuid.NewString(),
			ApplicationID:  app.ID,
			Action:         action,
			ActorID:        actor.ID,
			PreviousStatus: from,
			NewStatus:      to,
			Comments:       comments,
			CreatedAt:      now,
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			return err
		}
		out = app
		return nil
	})
	return out, err
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws an application. Only the owning applicant may cancel,
// and only while the application is non-terminal. No balance effect.
func (w *Workflow) Cancel(ctx context.Context, applicationID string, actor Actor) (*Application, error) {
	var out *Application
	err := w.run(ctx, "cancel", func(s Store) error {
		app, err := s.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.UserID != actor.ID {
			return &AuthorizationError{
				ActorID: actor.ID,
				Rule:    RuleOwnerOnly,
				Reason:  "only the applicant may cancel their application",
			}
		}
		if app.Status.Terminal() {
			return &StateConflictError{ApplicationID: app.ID, Status: app.Status}
		}

		now := w.now()
		from := app.Status
		app.Status = StatusCancelled
		app.UpdatedAt = now
		if err := s.SaveApplication(ctx, app); err != nil {
			return err
		}

		entry := HistoryEntry{
			ID:             uuid.NewString(),
			ApplicationID:  app.ID,
			Action:         ActionCancelled,
			ActorID:        actor.ID,
			PreviousStatus: from,
			NewStatus:      StatusCancelled,
			CreatedAt:      now,
		}
		if err := s.AppendHistory(ctx, entry); err != nil {
			return err
		}
		out = app
		return nil
	})
	return out, err
}

// =============================================================================
// READS
// =============================================================================

// Get returns a single application.
func (w *Workflow) Get(ctx context.Context, applicationID string) (*Application, error) {
	return w.store.GetApplication(ctx, applicationID)
}

// ListByUser returns a user's applications, newest first.
func (w *Workflow) ListByUser(ctx context.Context, userID string) ([]Application, error) {
	return w.store.ListApplicationsByUser(ctx, userID)
}

// History returns the audit trail for an application, oldest first.
func (w *Workflow) History(ctx context.Context, applicationID string) ([]HistoryEntry, error) {
	if _, err := w.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return w.store.HistoryByApplication(ctx, applicationID)
}

// Queue returns the applications the actor could approve right now: the
// approval rules double as the queue filter, so the two can never drift
// apart.
func (w *Workflow) Queue(ctx context.Context, actor Actor) ([]Application, error) {
	var queue []Application
	for _, status := range []Status{StatusPending, StatusHODApproved} {
		apps, err := w.store.ListApplicationsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for i := range apps {
			if Authorize(&apps[i], actor, DecisionApprove) == nil {
				queue = append(queue, apps[i])
			}
		}
	}
	return queue, nil
}

// =============================================================================
// RETRY LOOP
// =============================================================================

// run executes fn transactionally with bounded retries, logging failures
// that are about to surface as persistence errors.
func (w *Workflow) run(ctx context.Context, op string, fn func(Store) error) error {
	err := runWithRetry(ctx, w.store, fn)
	if err != nil && errors.Is(err, ErrPersistence) {
		w.log.Error("leave operation failed",
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return err
}

// runWithRetry runs fn in a transaction, retrying up to maxRetries on
// version conflicts. Domain errors pass through untouched; anything else
// from the store is classified as a persistence failure.
func runWithRetry(ctx context.Context, store TxStore, fn func(Store) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			break
		}
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("%w: retries exhausted: %s", ErrStateConflict, err)
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrStateConflict) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrPersistence, err)
}
