package authz

// Membership is a principal's placement within one tenant.
type Membership struct {
	TenantID   string
	EntityPath EntityPath
}

// BoundaryResult reports whether a principal may evaluate permissions against
// a resource at all, independent of what is granted.
type BoundaryResult struct {
	OK     bool
	Reason Reason
}

// BoundaryValidator enforces tenant and entity containment. It is a pure
// function of its inputs; caching its outcome belongs to the Resolver.
type BoundaryValidator struct{}

// NewBoundaryValidator returns a validator.
func NewBoundaryValidator() *BoundaryValidator {
	return &BoundaryValidator{}
}

// Validate checks that the membership belongs to the requested tenant and,
// when resource attributes are known, that the resource sits inside the same
// tenant under an entity path the membership contains.
//
// A nil membership (no membership in the tenant) and an orphaned resource
// (attrs present but without a tenant) both fail.
func (v *BoundaryValidator) Validate(membership *Membership, tenantID string, attrs *ResourceAttributes) BoundaryResult {
	deny := BoundaryResult{OK: false, Reason: ReasonBoundaryViolation}
	if tenantID == "" {
		return deny
	}
	if membership == nil || membership.TenantID != tenantID {
		return deny
	}
	if attrs != nil {
		if attrs.TenantID == "" || attrs.TenantID != tenantID {
			return deny
		}
		if !membership.EntityPath.Contains(attrs.EntityPath) {
			return deny
		}
	}
	return BoundaryResult{OK: true}
}
