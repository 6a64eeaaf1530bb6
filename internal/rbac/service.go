package rbac

import (
	"sort"

	"github.com/grc-saas/grc/internal/shared"
)

// Service evaluates a Policy.
type Service struct {
	policy Policy
}

// NewService constructs a Service for policy. A nil policy falls back to DefaultPolicy.
func NewService(policy Policy) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{policy: policy}
}

// Allowed reports whether role may exercise capability. Unknown capabilities deny.
func (s *Service) Allowed(role shared.Role, capability string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.policy[capability] {
		if r == role {
			return true
		}
	}
	return false
}

// RolesFor returns the roles allowed for capability.
func (s *Service) RolesFor(capability string) []shared.Role {
	if s == nil {
		return nil
	}
	roles := s.policy[capability]
	out := make([]shared.Role, len(roles))
	copy(out, roles)
	return out
}

// Capabilities lists the capabilities granted to role, sorted.
func (s *Service) Capabilities(role shared.Role) []string {
	if s == nil {
		return nil
	}
	caps := make([]string, 0, len(s.policy))
	for capability := range s.policy {
		if s.Allowed(role, capability) {
			caps = append(caps, capability)
		}
	}
	sort.Strings(caps)
	return caps
}
