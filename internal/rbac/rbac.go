package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleReviewer    Role = "reviewer"
	RoleOperator    Role = "operator"
	RoleAdmin       Role = "admin"
)

const (
	// ActionRead covers sections, search, proposals and sync history.
	ActionRead Action = "read"
	// ActionPropose covers opportunities, evolving them into proposals and
	// recording implementations.
	ActionPropose Action = "propose"
	// ActionReview covers vetting, validation and rejection.
	ActionReview Action = "review"
	// ActionSync covers running a sync pass and marking proposals synced.
	ActionSync  Action = "sync"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		return action == ActionRead || action == ActionSync
	case RoleReviewer:
		return action == ActionRead || action == ActionPropose || action == ActionReview
	case RoleContributor:
		return action == ActionRead || action == ActionPropose
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

var allActions = []Action{ActionRead, ActionPropose, ActionReview, ActionSync, ActionAdmin}

// Grants reports whether a holder of granted may act as requested: every
// action requested can perform must also be open to granted.
func Grants(granted, requested Role) bool {
	for _, action := range allActions {
		if Can(requested, action) && !Can(granted, action) {
			return false
		}
	}
	return true
}

// Parse returns the role named by s and whether it is known.
func Parse(s string) (Role, bool) {
	role := Role(s)
	switch role {
	case RoleViewer, RoleContributor, RoleReviewer, RoleOperator, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleReviewer, RoleOperator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
