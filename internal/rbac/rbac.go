// Package rbac decides what a user may do on a board. The board owner is
// always treated as a member, whether or not a membership row exists.
package rbac

type Role string
type Action string

const (
	RoleNone   Role = "none"
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

const (
	// ActionRead covers viewing a board and everything on it.
	ActionRead Action = "read"
	// ActionWrite covers columns, cards, assignments and invites.
	ActionWrite Action = "write"
	// ActionManage covers membership changes and deleting the board.
	ActionManage Action = "manage"
	// ActionLeave is allowed for members only; the owner cannot leave.
	ActionLeave Action = "leave"
)

func RoleFor(ownerID string, members []string, userID string) Role {
	if userID == "" {
		return RoleNone
	}
	if userID == ownerID {
		return RoleOwner
	}
	for _, member := range members {
		if member == userID {
			return RoleMember
		}
	}
	return RoleNone
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return action == ActionRead || action == ActionWrite || action == ActionManage
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionLeave
	default:
		return false
	}
}

// IsMember reports whether userID may access the board at all.
func IsMember(ownerID string, members []string, userID string) bool {
	return RoleFor(ownerID, members, userID) != RoleNone
}
