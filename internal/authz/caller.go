package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Capability is a permission granted to a caller.
type Capability string

const (
	// CapabilityAny is held by every caller, authenticated or not.
	CapabilityAny Capability = "any"
	// CapabilityAdmin may act on behalf of any principal.
	CapabilityAdmin Capability = "admin"
	// CapabilitySuperadmin may additionally provision admins.
	CapabilitySuperadmin Capability = "superadmin"
	// CapabilityService is held by trusted backends (bots, schedulers).
	CapabilityService Capability = "service"
	// CapabilityDelegate may assert the X-Principal-ID subject, typically a
	// gateway that has already authenticated the end user.
	CapabilityDelegate Capability = "delegate"
)

// Caller is the authenticated context of a request.
type Caller struct {
	// Subject is the principal the caller speaks for, if any.
	Subject string
	// KeyFingerprint identifies the API key used, never the key itself.
	KeyFingerprint string
	Capabilities   map[Capability]bool
}

// NewCaller builds a caller holding caps plus CapabilityAny.
func NewCaller(subject string, caps ...Capability) Caller {
	c := Caller{Subject: subject, Capabilities: map[Capability]bool{CapabilityAny: true}}
	for _, capability := range caps {
		c.Capabilities[capability] = true
	}
	return c
}

// Anonymous returns a caller with only CapabilityAny.
func Anonymous() Caller {
	return NewCaller("")
}

// Operator returns the caller used by the operator CLI.
func Operator() Caller {
	return NewCaller("", CapabilitySuperadmin, CapabilityAdmin, CapabilityService)
}

// Has reports whether the caller holds capability. Superadmin implies admin.
func (c Caller) Has(capability Capability) bool {
	if capability == CapabilityAny {
		return true
	}
	if c.Capabilities[capability] {
		return true
	}
	return capability == CapabilityAdmin && c.Capabilities[CapabilitySuperadmin]
}

// CanDelegate reports whether the caller may speak for a declared subject.
func (c Caller) CanDelegate() bool {
	return c.Has(CapabilityDelegate) || c.Has(CapabilityService) || c.Has(CapabilityAdmin)
}

// ID identifies the caller for rate limiting and logs.
func (c Caller) ID() string {
	if c.Subject != "" {
		return "principal:" + c.Subject
	}
	if c.KeyFingerprint != "" {
		return "key:" + c.KeyFingerprint
	}
	return ""
}

// CapabilityList returns the held capabilities sorted.
func (c Caller) CapabilityList() []string {
	out := make([]string, 0, len(c.Capabilities))
	for capability, ok := range c.Capabilities {
		if ok {
			out = append(out, string(capability))
		}
	}
	sort.Strings(out)
	return out
}

// ParseCapabilities parses a comma separated capability list.
// Unknown names are kept so policies can grow without code changes.
func ParseCapabilities(raw string) []Capability {
	var out []Capability
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, Capability(part))
	}
	return out
}

// Fingerprint returns a short, non-reversible identifier for an API key.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

type contextKey struct{}

// WithCaller stores caller in ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// FromContext returns the caller stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(contextKey{}).(Caller); ok {
		return c
	}
	return Anonymous()
}
