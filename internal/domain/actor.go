package domain

import "time"

// Roles recognised by privileged operations
const (
	RoleAdmin   = "admin"
	RoleOfficer = "election_officer"
	RoleVoter   = "voter"
	RoleSystem  = "system"
)

// Actor is the verified identity supplied by the transport layer.
type Actor struct {
	UserID string
	Role   string
}

// SystemActor is used by background sweeps.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

// RequirePrivileged rejects actors that may not administer elections.
func RequirePrivileged(a Actor) error {
	switch a.Role {
	case RoleAdmin, RoleOfficer, RoleSystem:
		if a.UserID == "" {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

// Clock supplies wall-clock time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
