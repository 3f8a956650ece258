// Package domain holds domain primitives shared across the gateway:
// typed identifiers and the caller identity model. Types here enforce
// validity at parse time so trust boundaries stay explicit.
package domain

import (
	"fmt"
	"strings"
)

// SubjectID identifies an agent (the acting principal) across the gateway.
// Distinct from TenantID so the compiler catches scope mixups in the
// budget ledger, where the two are charged against different windows.
type SubjectID string

// TenantID identifies the organization a subject belongs to.
type TenantID string

// ParseSubjectID validates and returns a SubjectID.
func ParseSubjectID(s string) (SubjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("subject id cannot be empty")
	}
	return SubjectID(s), nil
}

// ParseTenantID validates and returns a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("tenant id cannot be empty")
	}
	return TenantID(s), nil
}

// String returns the string representation.
func (s SubjectID) String() string { return string(s) }

// IsNil returns true if the subject id is empty.
func (s SubjectID) IsNil() bool { return s == "" }

// String returns the string representation.
func (t TenantID) String() string { return string(t) }

// IsNil returns true if the tenant id is empty.
func (t TenantID) IsNil() bool { return t == "" }
