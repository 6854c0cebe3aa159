package models

// Caller roles, taken from the gateway headers or JWT claims
const (
	RoleAdmin = "admin"
	RoleBeta  = "beta"
	RoleUser  = "user"
)

// Credits granted when a ledger row is first opened for an owner
const (
	BetaInitialCredits = 500
	UserInitialCredits = 25
)

// InitialCreditsForRole returns the opening balance for a new owner.
func InitialCreditsForRole(role string) int {
	if role == RoleBeta {
		return BetaInitialCredits
	}
	return UserInitialCredits
}

// HasUnlimitedCredits reports whether proposals are never charged for the role.
func HasUnlimitedCredits(role string) bool {
	return role == RoleAdmin
}
