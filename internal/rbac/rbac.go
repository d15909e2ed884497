package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionProgress Action = "progress"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionProgress
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Valid reports whether role is one of the assignable roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}
