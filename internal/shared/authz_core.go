package shared

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleComplianceManager Role = "compliance_manager"
	RoleRiskManager       Role = "risk_manager"
	RoleAuditor           Role = "auditor"
	RoleVendorManager     Role = "vendor_manager"
	RoleUser              Role = "user"
)

// AllRoles lists every known role.
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleComplianceManager,
		RoleRiskManager,
		RoleAuditor,
		RoleVendorManager,
		RoleUser,
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts a raw string into a Role, rejecting unknown values.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, raw)
	}
	return role, nil
}

// Capabilities guarded by per-route allow-lists.
const (
	CapUsersManage        = "users.manage"
	CapOrganizationManage = "organization.manage"
	CapIntegrationsManage = "integrations.manage"
	CapComplianceEdit     = "compliance.edit"
	CapComplianceTest     = "compliance.test"
	CapEvidenceEdit       = "evidence.edit"
	CapRisksEdit          = "risks.edit"
	CapVendorsEdit        = "vendors.edit"
	CapAuditsEdit         = "audits.edit"
	CapTasksEdit          = "tasks.edit"
)

// CoreCapabilities lists all capabilities known to the platform.
func CoreCapabilities() []string {
	return []string{
		CapUsersManage,
		CapOrganizationManage,
		CapIntegrationsManage,
		CapComplianceEdit,
		CapComplianceTest,
		CapEvidenceEdit,
		CapRisksEdit,
		CapVendorsEdit,
		CapAuditsEdit,
		CapTasksEdit,
	}
}
