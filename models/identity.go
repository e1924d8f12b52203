package models

import (
	"maps"

	"github.com/ekmate/portal/bearer"
)

// Role represents the role of an EKmate user
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// DefaultRole is assigned when neither the token nor the profile carries a role
const DefaultRole = RoleStudent

// Identity is the resolved user record: decoded token claims merged with the
// backend profile.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`

	// Attributes holds every merged field, including extended profile fields
	// (phone, department, preferred route, ...).
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewIdentity merges claims and profile into an Identity. Profile fields take
// precedence over claim fields. A missing, null or empty role resolves to
// DefaultRole.
func NewIdentity(claims, profile map[string]any) *Identity {
	merged := make(bearer.Claims, len(claims)+len(profile))
	maps.Copy(merged, claims)
	maps.Copy(merged, profile)

	// A token without any id claim still yields an identity; ID stays empty
	id, _ := merged.Subject()

	identity := &Identity{
		ID:         id,
		Email:      merged.String("email"),
		Name:       merged.String("name"),
		Role:       DefaultRole,
		Attributes: merged,
	}
	if role := merged.Role(); role != "" {
		identity.Role = Role(role)
	}
	return identity
}

// IsAdmin returns true if the identity has the admin role
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Attribute returns a merged field by name
func (i *Identity) Attribute(key string) (any, bool) {
	if i == nil {
		return nil, false
	}
	v, ok := i.Attributes[key]
	return v, ok
}

// Clone returns a copy that shares no mutable state with i
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Attributes = maps.Clone(i.Attributes)
	return &out
}

// DisplayName returns the name when known, otherwise the email
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}
