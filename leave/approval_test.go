package leave_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlashr/leave-engine/leave"
)

func application(applicantRole leave.Role, department string, status leave.Status) *leave.Application {
	return &leave.Application{
		ID:            "app-1",
		UserID:        "applicant-1",
		Department:    department,
		ApplicantRole: applicantRole,
		Status:        status,
	}
}

func TestCanApply(t *testing.T) {
	assert.True(t, leave.CanApply(leave.RoleStaff))
	assert.True(t, leave.CanApply(leave.RoleHOD))
	assert.True(t, leave.CanApply(leave.RolePrincipal))
	assert.False(t, leave.CanApply(leave.RoleAdmin))
	assert.False(t, leave.CanApply(leave.Role("intern")))
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		app      *leave.Application
		actor    leave.Actor
		decision leave.Decision
		wantRule string // empty means authorized
	}{
		{
			name:     "hod approves own department pending",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    hodSci,
			decision: leave.DecisionApprove,
		},
		{
			name:     "hod rejects own department pending",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    hodSci,
			decision: leave.DecisionReject,
		},
		{
			name:     "hod of another department denied",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    hodArts,
			decision: leave.DecisionApprove,
			wantRule: leave.RuleHODStage,
		},
		{
			name:     "staff cannot decide",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    staffSci2,
			decision: leave.DecisionApprove,
			wantRule: leave.RuleHODStage,
		},
		{
			name:     "principal cannot take over first-stage approval",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    principal,
			decision: leave.DecisionApprove,
			wantRule: leave.RuleHODStage,
		},
		{
			name:     "principal may short-circuit with a rejection",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    principal,
			decision: leave.DecisionReject,
		},
		{
			name:     "principal runs the final stage",
			app:      application(leave.RoleStaff, "science", leave.StatusHODApproved),
			actor:    principal,
			decision: leave.DecisionApprove,
		},
		{
			name:     "hod cannot run the final stage",
			app:      application(leave.RoleStaff, "science", leave.StatusHODApproved),
			actor:    hodSci,
			decision: leave.DecisionApprove,
			wantRule: leave.RulePrincipalStage,
		},
		{
			name:     "hod applicant escalates past peer hods",
			app:      application(leave.RoleHOD, "science", leave.StatusPending),
			actor:    hodSci,
			decision: leave.DecisionApprove,
			wantRule: leave.RuleHeadEscalation,
		},
		{
			name:     "hod applicant handled by principal",
			app:      application(leave.RoleHOD, "science", leave.StatusPending),
			actor:    principal,
			decision: leave.DecisionApprove,
		},
		{
			name:     "principal applicant handled by principal",
			app:      application(leave.RolePrincipal, "", leave.StatusPending),
			actor:    principal,
			decision: leave.DecisionApprove,
		},
		{
			name:     "admin excluded everywhere",
			app:      application(leave.RoleStaff, "science", leave.StatusPending),
			actor:    admin,
			decision: leave.DecisionApprove,
			wantRule: leave.RuleAdminExcluded,
		},
		{
			name:     "terminal application not approvable",
			app:      application(leave.RoleStaff, "science", leave.StatusRejected),
			actor:    hodSci,
			decision: leave.DecisionApprove,
			wantRule: leave.RuleTerminalState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := leave.Authorize(tt.app, tt.actor, tt.decision)
			if tt.wantRule == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, leave.ErrAuthorization))

			var denial *leave.AuthorizationError
			require.ErrorAs(t, err, &denial)
			assert.Equal(t, tt.wantRule, denial.Rule)
			assert.Equal(t, tt.actor.ID, denial.ActorID)
		})
	}
}

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to leave.Status }{
		{leave.StatusPending, leave.StatusHODApproved},
		{leave.StatusPending, leave.StatusRejected},
		{leave.StatusPending, leave.StatusCancelled},
		{leave.StatusHODApproved, leave.StatusPrincipalApproved},
		{leave.StatusHODApproved, leave.StatusRejected},
		{leave.StatusHODApproved, leave.StatusCancelled},
	}
	for _, edge := range legal {
		assert.True(t, leave.CanTransition(edge.from, edge.to), "%s -> %s", edge.from, edge.to)
	}

	// Nothing leaves a terminal status, and no edge skips a stage.
	illegal := []struct{ from, to leave.Status }{
		{leave.StatusPending, leave.StatusPrincipalApproved},
		{leave.StatusPrincipalApproved, leave.StatusPending},
		{leave.StatusPrincipalApproved, leave.StatusCancelled},
		{leave.StatusRejected, leave.StatusPending},
		{leave.StatusRejected, leave.StatusHODApproved},
		{leave.StatusCancelled, leave.StatusPending},
		{leave.StatusHODApproved, leave.StatusPending},
	}
	for _, edge := range illegal {
		assert.False(t, leave.CanTransition(edge.from, edge.to), "%s -> %s", edge.from, edge.to)
	}
}
