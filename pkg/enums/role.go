package enums

import "strings"

// Role is the marketplace role asserted by the identity provider.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

// RoleSystem is never issued in a token; it marks internal actors such as the
// payment webhook and scheduled jobs.
const RoleSystem Role = "system"

var tokenRoles = values[Role]{
	RoleCustomer,
	RoleVendor,
	RoleDriver,
	RoleAdmin,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a role that may appear in a token.
func (r Role) IsValid() bool { return tokenRoles.has(r) }

// ParseRole is case-insensitive. It never returns RoleSystem.
func ParseRole(value string) (Role, error) {
	return tokenRoles.parse("role", strings.ToLower(strings.TrimSpace(value)))
}
