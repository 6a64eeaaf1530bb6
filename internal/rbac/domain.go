package rbac

import (
	"context"
	"errors"

	"github.com/grc-saas/grc/internal/shared"
)

// ErrAccountInactive is returned by resolvers for deactivated accounts.
var ErrAccountInactive = errors.New("rbac: account inactive")

// Policy maps each capability to the roles allowed to exercise it.
type Policy map[string][]shared.Role

// DefaultPolicy is the allow-list used by the API routes.
func DefaultPolicy() Policy {
	return Policy{
		shared.CapUsersManage:        {shared.RoleAdmin},
		shared.CapOrganizationManage: {shared.RoleAdmin},
		shared.CapIntegrationsManage: {shared.RoleAdmin},
		shared.CapComplianceEdit:     {shared.RoleAdmin, shared.RoleComplianceManager},
		shared.CapComplianceTest:     {shared.RoleAdmin, shared.RoleComplianceManager, shared.RoleAuditor},
		shared.CapEvidenceEdit:       {shared.RoleAdmin, shared.RoleComplianceManager, shared.RoleAuditor},
		shared.CapRisksEdit:          {shared.RoleAdmin, shared.RoleRiskManager},
		shared.CapVendorsEdit:        {shared.RoleAdmin, shared.RoleVendorManager},
		shared.CapAuditsEdit:         {shared.RoleAdmin, shared.RoleAuditor, shared.RoleComplianceManager},
		shared.CapTasksEdit:          shared.AllRoles(),
	}
}

// Account is the live state of an account as seen by the guard.
type Account struct {
	ID             string
	Email          string
	FirstName      string
	LastName       string
	Role           shared.Role
	OrganizationID string
	IsActive       bool
}

// AccountResolver loads the current account for a token subject. It returns
// shared.ErrNotFound when the account no longer exists.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, userID string) (Account, error)
}
