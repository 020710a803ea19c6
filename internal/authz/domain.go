// Package authz implements multi-tenant, role-based permission resolution:
// boundary validation, dependency expansion, two-level result caching and
// asynchronous audit emission behind a single Resolver entry point.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Action identifies an operation a principal may perform on a resource type.
type Action string

// Built-in actions. The vocabulary decides which apply to which resource type.
const (
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionExport  Action = "export"
	ActionManage  Action = "manage"
)

// ResourceType identifies a class of protected resources.
type ResourceType string

// Resource types covered by the default vocabulary.
const (
	ResourceDocument ResourceType = "document"
	ResourceProject  ResourceType = "project"
	ResourceMember   ResourceType = "member"
	ResourceRole     ResourceType = "role"
	ResourceReport   ResourceType = "report"
)

// Scope narrows a grant to all resources of a type or only those the
// principal owns.
type Scope string

const (
	ScopeAny Scope = "any"
	ScopeOwn Scope = "own"
)

// Permission is a single grant held by a principal within a tenant.
type Permission struct {
	Action   Action
	Resource ResourceType
	Scope    Scope
}

// Dependency declares that granting Action implies Implies on the same
// resource type. Implication is directional.
type Dependency struct {
	Resource ResourceType
	Action   Action
	Implies  Action
}

// Reason explains why a check resolved the way it did.
type Reason string

const (
	ReasonDirect             Reason = "direct"
	ReasonImplied            Reason = "implied"
	ReasonSuperAdminOverride Reason = "super_admin_override"
	ReasonBoundaryViolation  Reason = "boundary_violation"
	ReasonNoGrant            Reason = "no_grant"
	ReasonTimeout            Reason = "timeout"
	ReasonUnavailable        Reason = "unavailable"
)

// Decision is the outcome of a single permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// CheckRequest describes one permission check. ResourceID is optional; an
// empty value asks whether the principal may perform the action on any
// resource of the type within the tenant.
type CheckRequest struct {
	PrincipalID string
	TenantID    string
	Action      Action
	Resource    ResourceType
	ResourceID  string
}

// CheckResult pairs a decision with the per-item error of a batch check.
type CheckResult struct {
	Decision Decision
	Err      error
}

// EntityPath locates a principal or resource inside a tenant's entity
// hierarchy, e.g. ["acme", "platform", "billing"]. An empty path means the
// tenant root.
type EntityPath []string

// ParseEntityPath splits a slash-separated path into its segments.
func ParseEntityPath(raw string) EntityPath {
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

// String renders the path as slash-separated segments.
func (p EntityPath) String() string {
	return strings.Join(p, "/")
}

// Contains reports whether p is an ancestor of, or equal to, other.
func (p EntityPath) Contains(other EntityPath) bool {
	if len(p) > len(other) {
		return false
	}
	for i, seg := range p {
		if other[i] != seg {
			return false
		}
	}
	return true
}

// ResourceAttributes are the tenant placement and ownership of a concrete
// resource, resolved by a ResourceDirectory.
type ResourceAttributes struct {
	TenantID   string
	EntityPath EntityPath
	OwnerID    string
}

// Sentinel errors for the resolution path.
var (
	// ErrUnknownPermission marks an action/resource pair outside the
	// configured vocabulary. Escalated to the caller, never a silent deny.
	ErrUnknownPermission = errors.New("authz: unknown permission")
	// ErrCycle marks a cyclic dependency configuration. Startup-fatal.
	ErrCycle = errors.New("authz: cycle in dependency graph")
	// ErrInvalidRequest marks a structurally invalid check request.
	ErrInvalidRequest = errors.New("authz: invalid check request")
	// ErrResourceNotFound is returned by a ResourceDirectory when the
	// resource id does not resolve to a tenant. Treated as a boundary
	// failure, never as "no constraint".
	ErrResourceNotFound = errors.New("authz: resource not found")
	// ErrNotMember is returned by a MembershipProvider when the principal
	// has no membership in the tenant.
	ErrNotMember = errors.New("authz: principal is not a tenant member")
)

// UnknownPermissionError carries the offending pair for caller diagnostics.
type UnknownPermissionError struct {
	Action   Action
	Resource ResourceType
}

func (e *UnknownPermissionError) Error() string {
	return fmt.Sprintf("authz: unknown permission %s:%s", e.Resource, e.Action)
}

// Unwrap lets errors.Is match ErrUnknownPermission.
func (e *UnknownPermissionError) Unwrap() error { return ErrUnknownPermission }
