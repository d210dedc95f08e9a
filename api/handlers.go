/*
handlers.go - HTTP handlers for the leave engine

PURPOSE:
  Exposes the workflow and ledger over REST. Handlers parse HTTP, build
  the domain call, and translate domain errors to status codes. No
  business rules live here.

ACTOR IDENTITY:
  Authentication happens upstream (gateway, session layer - out of scope
  here). The authenticated actor arrives as headers:

    X-Actor-ID:          user identifier
    X-Actor-Role:        staff | hod | principal | admin
    X-Actor-Department:  department name (required for staff and hod)

  This layer trusts the headers and performs only authorization, which is
  the core's job anyway.

ERROR MAPPING:
  400: validation errors
  401: missing actor identity
  403: authorization denials
  404: unknown application / leave type
  409: state conflicts, insufficient balance, policy violations
  500: persistence failures (logged)

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlashr/leave-engine/factory"
	"github.com/atlashr/leave-engine/leave"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	Workflow *leave.Workflow
	Ledger   *leave.Ledger
	Store    leave.TxStore
	Log      *zap.Logger
}

// NewHandler wires a handler over the given store.
func NewHandler(store leave.TxStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Workflow: leave.NewWorkflow(store, log),
		Ledger:   leave.NewLedger(store),
		Store:    store,
		Log:      log,
	}
}

// actorFromRequest builds the acting identity from the trusted headers.
func actorFromRequest(r *http.Request) (leave.Actor, bool) {
	actor := leave.Actor{
		ID:         r.Header.Get("X-Actor-ID"),
		Role:       leave.Role(r.Header.Get("X-Actor-Role")),
		Department: r.Header.Get("X-Actor-Department"),
	}
	return actor, actor.ID != "" && actor.Role != ""
}

// =============================================================================
// APPLICATION HANDLERS
// =============================================================================

// SubmitApplication creates a new leave application for the acting user.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date", err)
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date", err)
		return
	}

	app, err := h.Workflow.Submit(r.Context(), leave.SubmitInput{
		Actor:       actor,
		LeaveTypeID: req.LeaveTypeID,
		Span: leave.Span{
			Start:        start,
			End:          end,
			HalfDayStart: req.HalfDayStart,
			HalfDayEnd:   req.HalfDayEnd,
		},
		Reason: req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplicationDTO(app))
}

// GetApplication returns a single application.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// ListApplications returns applications for a user (the actor's own unless
// user_id says otherwise).
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = actor.ID
	}

	apps, err := h.Workflow.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTOs(apps))
}

// PendingQueue returns the applications the acting approver may decide.
func (h *Handler) PendingQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	apps, err := h.Workflow.Queue(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTOs(apps))
}

// DecideApplication applies an approval or rejection.
func (h *Handler) DecideApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	app, err := h.Workflow.Decide(r.Context(), chi.URLParam(r, "id"), actor,
		leave.Decision(req.Decision), req.Comments)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// CancelApplication withdraws the actor's own application.
func (h *Handler) CancelApplication(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	app, err := h.Workflow.Cancel(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationDTO(app))
}

// GetHistory returns the audit trail for an application.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Workflow.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns (lazily creating) the ledger row for a key.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		userID = actor.ID
	}
	leaveTypeID := q.Get("leave_type_id")
	if leaveTypeID == "" {
		writeError(w, http.StatusBadRequest, "leave_type_id is required", nil)
		return
	}
	year := time.Now().Year()
	if y := q.Get("year"); y != "" {
		parsed, err := time.Parse("2006", y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year", err)
			return
		}
		year = parsed.Year()
	}

	b, err := h.Ledger.Balance(r.Context(), leave.BalanceKey{
		UserID:      userID,
		LeaveTypeID: leaveTypeID,
		Year:        year,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// AdjustBalance overwrites a balance. Administrative roles only; fixed
// allocations refuse the edit.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}

	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.UserID == "" || req.LeaveTypeID == "" || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "user_id, leave_type_id and year are required", nil)
		return
	}

	b, err := h.Ledger.Adjust(r.Context(), leave.BalanceKey{
		UserID:      req.UserID,
		LeaveTypeID: req.LeaveTypeID,
		Year:        req.Year,
	}, decimal.NewFromFloat(req.Balance), actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes returns the catalog.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]LeaveTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toLeaveTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLeaveType adds or updates a catalog entry. Admin only.
func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "actor identity headers required", nil)
		return
	}
	if actor.Role != leave.RoleAdmin {
		writeError(w, http.StatusForbidden, "leave type administration requires an administrative role", nil)
		return
	}

	var req factory.TypeJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	typ, err := factory.ParseType(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid leave type", err)
		return
	}

	if err := h.Store.SaveLeaveType(r.Context(), &typ); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveTypeDTO(typ))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case leave.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, leave.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	case errors.Is(err, leave.ErrAuthorization):
		writeError(w, http.StatusForbidden, "not authorized", err)
	case errors.Is(err, leave.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient balance", err)
	case errors.Is(err, leave.ErrStateConflict):
		writeError(w, http.StatusConflict, "concurrent modification, retry against fresh state", err)
	case errors.Is(err, leave.ErrPolicy):
		writeError(w, http.StatusConflict, "policy violation", err)
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
