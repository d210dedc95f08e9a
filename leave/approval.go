/*
approval.go - Approval chain resolver

PURPOSE:
  One pure decision function answering "may this actor act on this
  application in its current state?". Every role/department rule lives
  here, as an enumerable set, instead of being scattered across handlers.

THE CHAIN:
  Pending      -> HOD stage:       the HOD of the applicant's department
  HODApproved  -> Principal stage: the Principal, organization-wide
  Rejection is allowed to the stage approver; the Principal may also
  short-circuit a Pending application with a rejection.

HEAD ESCALATION:
  When the applicant is themselves an HOD or the Principal, nobody junior
  can sensibly run the first stage. RuleHeadEscalation moves the HOD stage
  to the Principal for such applicants. This is deliberately isolated as a
  single named rule so the policy can be revisited in one place.

ADMINS:
  Administrative roles never participate in the chain. They reach the
  ledger only through Ledger.Adjust, which audits every touch.

SEE ALSO:
  - workflow.go: Calls Authorize inside each decision transaction
*/
package leave

// Rule names carried inside AuthorizationError, so a denial always says
// which rule produced it.
const (
	RuleHODStage       = "hod_stage"
	RulePrincipalStage = "principal_stage"
	RuleHeadEscalation = "head_escalation"
	RuleAdminExcluded  = "admin_excluded"
	RuleApplicantRole  = "applicant_role"
	RuleOwnerOnly      = "owner_only"
	RuleTerminalState  = "terminal_state"
)

// CanApply reports whether a role may submit leave applications at all.
// Admin accounts are service identities, not leave-taking users.
func CanApply(r Role) bool {
	switch r {
	case RoleStaff, RoleHOD, RolePrincipal:
		return true
	}
	return false
}

// Authorize decides whether actor may apply the given decision to app in
// its current status. It is a pure function: no I/O, no clock, nothing but
// its arguments. Returns nil when authorized, *AuthorizationError otherwise.
func Authorize(app *Application, actor Actor, d Decision) error {
	if actor.Role == RoleAdmin {
		return &AuthorizationError{
			ActorID: actor.ID,
			Rule:    RuleAdminExcluded,
			Reason:  "administrative roles do not participate in the approval chain",
		}
	}

	switch app.Status {
	case StatusPending:
		return authorizeHODStage(app, actor, d)
	case StatusHODApproved:
		return authorizePrincipalStage(actor, d)
	default:
		return &AuthorizationError{
			ActorID: actor.ID,
			Rule:    RuleTerminalState,
			Reason:  "application is not in an approvable state",
		}
	}
}

// authorizeHODStage covers the Pending status.
func authorizeHODStage(app *Application, actor Actor, d Decision) error {
	// RuleHeadEscalation: HOD and Principal applicants skip their own
	// first stage; only the Principal may act.
	if app.ApplicantRole == RoleHOD || app.ApplicantRole == RolePrincipal {
		if actor.Role != RolePrincipal {
			return &AuthorizationError{
				ActorID: actor.ID,
				Rule:    RuleHeadEscalation,
				Reason:  "department-head applications escalate directly to the principal",
			}
		}
		return nil
	}

	// The Principal may short-circuit with a rejection but does not take
	// over routine first-stage approvals.
	if actor.Role == RolePrincipal && d == DecisionReject {
		return nil
	}

	if actor.Role != RoleHOD {
		return &AuthorizationError{
			ActorID: actor.ID,
			Rule:    RuleHODStage,
			Reason:  "first-stage decisions require the department head",
		}
	}
	if actor.Department != app.Department {
		return &AuthorizationError{
			ActorID: actor.ID,
			Rule:    RuleHODStage,
			Reason:  "department head of a different department",
		}
	}
	return nil
}

// authorizePrincipalStage covers the HODApproved status. Principal scope is
// organization-wide, so no department comparison happens here.
func authorizePrincipalStage(actor Actor, _ Decision) error {
	if actor.Role != RolePrincipal {
		return &AuthorizationError{
			ActorID: actor.ID,
			Rule:    RulePrincipalStage,
			Reason:  "final-stage decisions require the principal",
		}
	}
	return nil
}
