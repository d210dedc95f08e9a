/*
dto.go - HTTP request/response data structures

JSON shapes for the API layer plus the mapping from domain errors to HTTP
status codes. Dates travel as "2006-01-02" strings; day counts as numbers
(always multiples of 0.5, so float64 is exact).
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/atlashr/leave-engine/leave"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

type SubmitRequest struct {
	LeaveTypeID  string `json:"leave_type_id"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	HalfDayStart bool   `json:"half_day_start,omitempty"`
	HalfDayEnd   bool   `json:"half_day_end,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision"` // "approve" or "reject"
	Comments string `json:"comments,omitempty"`
}

type AdjustBalanceRequest struct {
	UserID      string  `json:"user_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Balance     float64 `json:"balance"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ApplicationDTO struct {
	ID                  string  `json:"id"`
	UserID              string  `json:"user_id"`
	LeaveTypeID         string  `json:"leave_type_id"`
	Department          string  `json:"department"`
	StartDate           string  `json:"start_date"`
	EndDate             string  `json:"end_date"`
	Days                float64 `json:"days"`
	Reason              string  `json:"reason,omitempty"`
	Status              string  `json:"status"`
	HODApprovedBy       string  `json:"hod_approved_by,omitempty"`
	HODApprovedAt       string  `json:"hod_approved_at,omitempty"`
	PrincipalApprovedBy string  `json:"principal_approved_by,omitempty"`
	PrincipalApprovedAt string  `json:"principal_approved_at,omitempty"`
	RejectedBy          string  `json:"rejected_by,omitempty"`
	RejectedAt          string  `json:"rejected_at,omitempty"`
	RejectionReason     string  `json:"rejection_reason,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type BalanceDTO struct {
	UserID      string  `json:"user_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Year        int     `json:"year"`
	Balance     float64 `json:"balance"`
	UpdatedAt   string  `json:"updated_at"`
}

type HistoryDTO struct {
	ID             string `json:"id"`
	ApplicationID  string `json:"application_id,omitempty"`
	Action         string `json:"action"`
	ActorID        string `json:"actor_id"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	Comments       string `json:"comments,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type LeaveTypeDTO struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	MaxDays         *float64 `json:"max_days,omitempty"`
	FixedAllocation bool     `json:"fixed_allocation"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toApplicationDTO(app *leave.Application) ApplicationDTO {
	return ApplicationDTO{
		ID:                  app.ID,
		UserID:              app.UserID,
		LeaveTypeID:         app.LeaveTypeID,
		Department:          app.Department,
		StartDate:           app.StartDate.Format(dateLayout),
		EndDate:             app.EndDate.Format(dateLayout),
		Days:                app.Days.InexactFloat64(),
		Reason:              app.Reason,
		Status:              string(app.Status),
		HODApprovedBy:       app.HODApprovedBy,
		HODApprovedAt:       formatTimePtr(app.HODApprovedAt),
		PrincipalApprovedBy: app.PrincipalApprovedBy,
		PrincipalApprovedAt: formatTimePtr(app.PrincipalApprovedAt),
		RejectedBy:          app.RejectedBy,
		RejectedAt:          formatTimePtr(app.RejectedAt),
		RejectionReason:     app.RejectionReason,
		CreatedAt:           app.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           app.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toApplicationDTOs(apps []leave.Application) []ApplicationDTO {
	dtos := make([]ApplicationDTO, len(apps))
	for i := range apps {
		dtos[i] = toApplicationDTO(&apps[i])
	}
	return dtos
}

func toBalanceDTO(b *leave.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:      b.UserID,
		LeaveTypeID: b.LeaveTypeID,
		Year:        b.Year,
		Balance:     b.Days.InexactFloat64(),
		UpdatedAt:   b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toHistoryDTOs(entries []leave.HistoryEntry) []HistoryDTO {
	dtos := make([]HistoryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryDTO{
			ID:             e.ID,
			ApplicationID:  e.ApplicationID,
			Action:         string(e.Action),
			ActorID:        e.ActorID,
			PreviousStatus: string(e.PreviousStatus),
			NewStatus:      string(e.NewStatus),
			Comments:       e.Comments,
			CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return dtos
}

func toLeaveTypeDTO(t leave.Type) LeaveTypeDTO {
	dto := LeaveTypeDTO{
		ID:              t.ID,
		Name:            t.Name,
		FixedAllocation: t.FixedAllocation,
	}
	if t.MaxDays != nil {
		f := t.MaxDays.InexactFloat64()
		dto.MaxDays = &f
	}
	return dto
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// =============================================================================
// RESPONSE WRITERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
