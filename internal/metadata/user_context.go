package metadata

// UserContext represents the authenticated caller, set by auth middleware.
// API-key callers carry the key name as ID and the "sync" role.
type UserContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

const (
	RoleAdmin = "admin"
	RoleSync  = "sync"
)

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}
