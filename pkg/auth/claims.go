package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the coarse actor role carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// AccessTokenClaims are the claims minted by the identity collaborator and
// consumed here. The jti doubles as the Redis session id.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"uid"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
	jwt.RegisteredClaims
}

// AccessTokenPayload captures the inputs for minting a token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   Role
	JTI    string
}
