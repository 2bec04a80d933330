// Package policy decides whether a principal may perform an operation.
// Decisions depend only on (role, operation); there is no I/O and no state.
package policy

import (
	"strings"

	dErrors "phigate/pkg/domain-errors"
)

// Role is the closed set of principal roles.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

// ParseRole accepts role names in any case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.IsValid()
}

// Operation is a gated action.
type Operation string

const (
	OpCreateEncounter Operation = "CREATE_ENCOUNTER"
	OpReadEncounter   Operation = "READ_ENCOUNTER"
	OpListAudit       Operation = "LIST_AUDIT"
)

// Principal is the authenticated actor for one request.
type Principal struct {
	ID        string
	Role      Role
	SourceIP  string
	UserAgent string
}

// Validate rejects principals that authentication should never produce.
func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "principal id is required")
	}
	if !p.Role.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "principal role is invalid")
	}
	return nil
}

// Decision is the outcome of Authorize. A denial is a value, not an error;
// Reason is for operators and must not be shown to callers.
type Decision struct {
	Allowed bool
	Reason  string
}

var grants = map[Operation]map[Role]bool{
	OpCreateEncounter: {RoleAdmin: true, RoleUser: true},
	OpReadEncounter:   {RoleAdmin: true, RoleUser: true},
	OpListAudit:       {RoleAdmin: true},
}

// Authorize decides whether p may perform op. ownerHint names the owner of
// the target resource when known; no current rule depends on it.
func Authorize(p Principal, op Operation, ownerHint string) Decision {
	roles, ok := grants[op]
	if !ok {
		return Decision{Reason: "unknown operation"}
	}
	if !p.Role.IsValid() {
		return Decision{Reason: "unknown role"}
	}
	if !roles[p.Role] {
		return Decision{Reason: "role " + string(p.Role) + " may not " + string(op)}
	}
	return Decision{Allowed: true}
}
