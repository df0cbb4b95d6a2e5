package domain

import (
	"fmt"
	"strings"
)

// TenantID identifies the owner of every persisted row.
// The value is opaque to the engine.
type TenantID string

// String returns the raw identifier.
func (t TenantID) String() string {
	return string(t)
}

// IsZero reports whether no tenant is bound.
func (t TenantID) IsZero() bool {
	return strings.TrimSpace(string(t)) == ""
}

// RequireTenant returns ErrMissingTenant when t is unset.
// Every storage and service entry point calls it before touching data.
func RequireTenant(t TenantID) error {
	if t.IsZero() {
		return ErrMissingTenant
	}
	if len(t) > 128 {
		return fmt.Errorf("%w: tenant id longer than 128 bytes", ErrInvalidInput)
	}
	return nil
}
