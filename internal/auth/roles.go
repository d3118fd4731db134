package auth

import "github.com/kaif394/Gymble0/internal/domain"

// Role claim values issued by the identity service.
const (
	RoleOwner  = "owner"
	RoleStaff  = "staff"
	RoleMember = "member"
)

// ScopeDisplay lets a token issue the gym's rotating QR code. Front-desk
// screens carry it with a device role that maps to no domain role.
const ScopeDisplay = "attendance:display"

// RoleOf maps a role claim to a domain role; unknown values map to "".
func RoleOf(claim string) domain.Role {
	switch claim {
	case RoleOwner:
		return domain.RoleOwner
	case RoleStaff:
		return domain.RoleStaff
	case RoleMember:
		return domain.RoleMember
	default:
		return ""
	}
}
