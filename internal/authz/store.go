package authz

import "context"

// RoleStore supplies the grants currently assigned to a principal. Consumed
// only; role administration lives outside this service.
type RoleStore interface {
	// GetPermissions returns the principal's grants within the tenant.
	GetPermissions(ctx context.Context, principalID, tenantID string) ([]Permission, error)
	// HasGlobalRole reports whether the principal holds a SuperAdmin-class
	// role that bypasses tenant-scoped grant lookup.
	HasGlobalRole(ctx context.Context, principalID string) (bool, error)
}

// MembershipProvider resolves a principal's placement inside a tenant.
// Returns ErrNotMember when the principal does not belong to the tenant.
type MembershipProvider interface {
	GetEntityPath(ctx context.Context, principalID, tenantID string) (EntityPath, error)
}

// ResourceDirectory resolves a concrete resource to its tenant placement and
// owner. Returns ErrResourceNotFound for orphaned or unknown resources.
type ResourceDirectory interface {
	ResolveResource(ctx context.Context, resource ResourceType, resourceID string) (ResourceAttributes, error)
}
