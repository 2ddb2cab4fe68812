package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PrincipalTokenPayload captures the data available when minting a JWT.
type PrincipalTokenPayload struct {
	Principal uuid.UUID
	JTI       string
}

// PrincipalTokenClaims represents the typed JWT presented by callers.
// The principal id is the identity every authorization rule compares
// against record ownership.
type PrincipalTokenClaims struct {
	Principal uuid.UUID `json:"principal"`
	jwt.RegisteredClaims
}
