package board

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleUser:
		return Role(role)
	default:
		return RoleUser
	}
}

func IsAdmin(role string) bool {
	return Normalize(role) == RoleAdmin
}
