package rbac

type Role string
type Action string

const (
	RoleGuest   Role = "guest"
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionManage  Action = "manage"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRead || action == ActionComment || action == ActionWrite || action == ActionManage
	case RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleGuest:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleMember, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleGuest
	}
}
