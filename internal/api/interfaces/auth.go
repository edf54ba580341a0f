package interfaces

import "election-service/internal/domain"

// Claims represents JWT token claims
type Claims struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expires_at"`
}

// Actor is the identity the core components act on behalf of
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, Role: c.Role}
}

type AuthServiceInterface interface {
	ValidateToken(token string) (*Claims, error)
}
