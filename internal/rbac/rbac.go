package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleWriter:
		return action == ActionRead || action == ActionComment || action == ActionPublish
	case RoleReader:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}
