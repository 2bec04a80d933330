package jwttoken

import (
	"strings"

	dErrors "phigate/pkg/domain-errors"
	authmw "phigate/pkg/platform/middleware/auth"
)

// PrincipalVerifier turns a bearer token into the caller identity the auth
// middleware places on the request context.
type PrincipalVerifier struct {
	tokens *JWTService
}

func NewPrincipalVerifier(tokens *JWTService) *PrincipalVerifier {
	return &PrincipalVerifier{tokens: tokens}
}

// ValidateToken rejects otherwise valid tokens that name no subject or no
// role. Unknown role values pass so the access policy records the denial.
func (v *PrincipalVerifier) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := v.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(claims.Subject)
	role := strings.TrimSpace(claims.Role)
	if subject == "" || role == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no principal")
	}
	return &authmw.JWTClaims{PrincipalID: subject, Role: role}, nil
}
