package domain

import "time"

// Role names with special meaning to the gateway. All other roles are
// opaque strings resolved through the configured role hierarchy.
const (
	// RolePlatformAdmin grants the debugging capability: RBAC denials are
	// rendered with full detail instead of the generic production message.
	RolePlatformAdmin = "platform-admin"
)

// Identity is the authenticated caller, extracted from the bearer token by
// the authentication stage. Immutable after that stage: policy routing
// decisions rewrite the downstream target, never the identity, so the audit
// trail stays accurate about who made the request.
type Identity struct {
	Subject     SubjectID
	Tenant      TenantID
	Roles       []string
	Governor    bool
	TrialMode   bool
	TrialExpiry *time.Time
}

// HasRole reports whether the identity directly holds the given role.
// Hierarchy expansion is the authorization table's concern, not the identity's.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TrialActive reports whether the identity is in trial mode and the trial
// has not yet expired at the given instant.
func (i Identity) TrialActive(now time.Time) bool {
	if !i.TrialMode {
		return false
	}
	if i.TrialExpiry == nil {
		return true
	}
	return now.Before(*i.TrialExpiry)
}
