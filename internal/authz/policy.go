package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the caller lacks a capability.
	ErrPermissionDenied = errors.New("authz: permission denied")
	// ErrUnknownRole is returned for roles the policy does not know.
	ErrUnknownRole = errors.New("authz: unknown role")
)

// Policy maps provisionable roles to the capability required to create them.
type Policy struct {
	required map[string]Capability
}

// DefaultPolicy: admins need a superadmin caller, everyone else is open.
func DefaultPolicy() Policy {
	return NewPolicy(map[string]Capability{
		"admin":      CapabilitySuperadmin,
		"ambassador": CapabilityAny,
		"customer":   CapabilityAny,
	})
}

// NewPolicy creates a policy from role requirements.
func NewPolicy(required map[string]Capability) Policy {
	cp := make(map[string]Capability, len(required))
	for role, capability := range required {
		cp[role] = capability
	}
	return Policy{required: cp}
}

// CanProvision checks whether caller may create a principal with role.
func (p Policy) CanProvision(caller Caller, role string) error {
	capability, ok := p.required[role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if !caller.Has(capability) {
		return fmt.Errorf("%w: provisioning %s requires %s", ErrPermissionDenied, role, capability)
	}
	return nil
}

// CanActFor checks whether caller may change onboarding state of principalID:
// the principal itself, an admin or a trusted service.
func (p Policy) CanActFor(caller Caller, principalID string) error {
	if principalID != "" && caller.Subject == principalID {
		return nil
	}
	if caller.Has(CapabilityAdmin) || caller.Has(CapabilityService) {
		return nil
	}
	return fmt.Errorf("%w: caller may not act for principal", ErrPermissionDenied)
}
