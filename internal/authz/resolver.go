package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DecisionRecorder observes resolved checks for metrics. Implementations must
// be cheap; they run on the check path.
type DecisionRecorder interface {
	ObserveCheck(reason Reason, allowed, fromCache bool, elapsed time.Duration)
}

// ResolverConfig tunes the resolver.
type ResolverConfig struct {
	// StoreTimeout bounds each RoleStore / membership / directory round
	// trip. Zero means 200ms.
	StoreTimeout time.Duration
	// BatchConcurrency caps concurrent items in CheckBatch. Zero means 8.
	BatchConcurrency int
}

// Resolver composes boundary validation, cache lookup, direct-grant matching
// and dependency expansion into one deterministic decision. Fail-closed: any
// uncertain condition denies.
type Resolver struct {
	vocab     *Vocabulary
	graph     *DependencyGraph
	boundary  *BoundaryValidator
	roles     RoleStore
	members   MembershipProvider
	resources ResourceDirectory
	cache     *Cache
	audit     *AuditDispatcher
	logger    *slog.Logger
	recorder  DecisionRecorder
	cfg       ResolverConfig

	flight singleflight.Group
}

// NewResolver wires the resolver. cache, audit and recorder may be nil
// (caching, auditing or metrics disabled, e.g. in tests); everything else is
// required.
func NewResolver(
	vocab *Vocabulary,
	graph *DependencyGraph,
	roles RoleStore,
	members MembershipProvider,
	resources ResourceDirectory,
	cache *Cache,
	audit *AuditDispatcher,
	recorder DecisionRecorder,
	logger *slog.Logger,
	cfg ResolverConfig,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 200 * time.Millisecond
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	return &Resolver{
		vocab:     vocab,
		graph:     graph,
		boundary:  NewBoundaryValidator(),
		roles:     roles,
		members:   members,
		resources: resources,
		cache:     cache,
		audit:     audit,
		logger:    logger,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Check resolves one permission check. The only returned errors are request
// validation failures (ErrInvalidRequest, ErrUnknownPermission); every
// backend condition resolves to a deny with a reason code instead.
func (r *Resolver) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	started := time.Now()
	if err := r.validateRequest(req); err != nil {
		return Decision{}, err
	}

	key := CacheKey{
		PrincipalID: req.PrincipalID,
		TenantID:    req.TenantID,
		Resource:    req.Resource,
		Action:      req.Action,
		ResourceID:  req.ResourceID,
	}
	if r.cache != nil {
		if entry, ok := r.cache.Get(ctx, key); ok {
			decision := Decision{Allowed: entry.Allowed, Reason: entry.Reason}
			r.finish(req, decision, true, started)
			return decision, nil
		}
	}

	decision, cacheable := r.resolve(ctx, req)
	if cacheable && r.cache != nil {
		r.cache.Set(ctx, key, decision.Allowed, decision.Reason)
	}
	r.finish(req, decision, false, started)
	return decision, nil
}

// CheckBatch resolves the requests concurrently, one result per request in
// order. Per-item correctness is identical to Check; a caller deadline
// cancels items that have not started without leaving partial cache state.
func (r *Resolver) CheckBatch(ctx context.Context, reqs []CheckRequest) []CheckResult {
	results := make([]CheckResult, len(reqs))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.BatchConcurrency)
	for i, req := range reqs {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = CheckResult{Decision: Decision{Allowed: false, Reason: ReasonTimeout}, Err: err}
				return nil
			}
			decision, err := r.Check(ctx, req)
			results[i] = CheckResult{Decision: decision, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// Invalidate forwards an administrative mutation notification to the cache.
func (r *Resolver) Invalidate(ctx context.Context, principalID, tenantID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, principalID, tenantID)
}

func (r *Resolver) validateRequest(req CheckRequest) error {
	switch {
	case req.PrincipalID == "":
		return fmt.Errorf("%w: principal id required", ErrInvalidRequest)
	case req.TenantID == "":
		return fmt.Errorf("%w: tenant id required", ErrInvalidRequest)
	}
	if !r.vocab.Contains(req.Resource, req.Action) {
		return &UnknownPermissionError{Action: req.Action, Resource: req.Resource}
	}
	return nil
}

// resolve computes an uncached decision. The second return value reports
// whether the outcome may be cached; transient backend failures must not pin
// a wrong answer.
func (r *Resolver) resolve(ctx context.Context, req CheckRequest) (Decision, bool) {
	boundary, attrs, err := r.validateBoundary(ctx, req)
	if err != nil {
		return r.failClosed("boundary validation", req, err), false
	}

	global, err := r.hasGlobalRole(ctx, req.PrincipalID)
	if err != nil {
		return r.failClosed("global role lookup", req, err), false
	}
	if global {
		// SuperAdmin bypasses grant lookup but not boundary evaluation
		// (already ran, for audit metadata) and not audit emission.
		return Decision{Allowed: true, Reason: ReasonSuperAdminOverride}, true
	}
	if !boundary.OK {
		return Decision{Allowed: false, Reason: boundary.Reason}, true
	}

	perms, err := r.fetchPermissions(ctx, req.PrincipalID, req.TenantID)
	if err != nil {
		return r.failClosed("role store fetch", req, err), false
	}

	granted := make([]Action, 0, len(perms))
	for _, perm := range perms {
		if perm.Resource != req.Resource {
			continue
		}
		if perm.Scope == ScopeOwn && !ownsResource(attrs, req.PrincipalID) {
			continue
		}
		if perm.Action == req.Action {
			return Decision{Allowed: true, Reason: ReasonDirect}, true
		}
		granted = append(granted, perm.Action)
	}
	if r.graph.Implies(granted, req.Resource, req.Action) {
		return Decision{Allowed: true, Reason: ReasonImplied}, true
	}
	return Decision{Allowed: false, Reason: ReasonNoGrant}, true
}

// validateBoundary gathers membership and resource placement, then runs the
// pure validator. ErrNotMember and ErrResourceNotFound are boundary denials,
// not backend failures. The resolved resource attributes are returned so the
// grant-matching step can reuse them for Own-scope ownership.
func (r *Resolver) validateBoundary(ctx context.Context, req CheckRequest) (BoundaryResult, *ResourceAttributes, error) {
	deny := BoundaryResult{OK: false, Reason: ReasonBoundaryViolation}

	mctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	path, err := r.members.GetEntityPath(mctx, req.PrincipalID, req.TenantID)
	if errors.Is(err, ErrNotMember) {
		return deny, nil, nil
	}
	if err != nil {
		return BoundaryResult{}, nil, err
	}
	membership := &Membership{TenantID: req.TenantID, EntityPath: path}

	var attrs *ResourceAttributes
	if req.ResourceID != "" {
		rctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
		defer cancel()
		resolved, err := r.resources.ResolveResource(rctx, req.Resource, req.ResourceID)
		if errors.Is(err, ErrResourceNotFound) {
			return deny, nil, nil
		}
		if err != nil {
			return BoundaryResult{}, nil, err
		}
		attrs = &resolved
	}
	return r.boundary.Validate(membership, req.TenantID, attrs), attrs, nil
}

func (r *Resolver) hasGlobalRole(ctx context.Context, principalID string) (bool, error) {
	gctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.roles.HasGlobalRole(gctx, principalID)
}

// fetchPermissions deduplicates concurrent RoleStore round trips for the
// same principal/tenant pair.
func (r *Resolver) fetchPermissions(ctx context.Context, principalID, tenantID string) ([]Permission, error) {
	value, err, _ := r.flight.Do(tenantID+":"+principalID, func() (any, error) {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
		defer cancel()
		return r.roles.GetPermissions(sctx, principalID, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return value.([]Permission), nil
}

// ownsResource matches Own-scoped grants against the resolved owner. Checks
// without a concrete resource can never satisfy an Own grant.
func ownsResource(attrs *ResourceAttributes, principalID string) bool {
	return attrs != nil && attrs.OwnerID == principalID
}

// failClosed maps a backend failure to a non-cacheable deny and logs it.
func (r *Resolver) failClosed(stage string, req CheckRequest, err error) Decision {
	reason := ReasonUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		reason = ReasonTimeout
	}
	r.logger.Warn("authz check failed closed",
		slog.String("stage", stage),
		slog.String("principal_id", req.PrincipalID),
		slog.String("tenant_id", req.TenantID),
		slog.String("resource", string(req.Resource)),
		slog.String("action", string(req.Action)),
		slog.Any("error", err))
	return Decision{Allowed: false, Reason: reason}
}

func (r *Resolver) finish(req CheckRequest, decision Decision, fromCache bool, started time.Time) {
	if r.recorder != nil {
		r.recorder.ObserveCheck(decision.Reason, decision.Allowed, fromCache, time.Since(started))
	}
	if r.audit != nil {
		r.audit.Dispatch(AuditEvent{
			PrincipalID: req.PrincipalID,
			TenantID:    req.TenantID,
			Action:      req.Action,
			Resource:    req.Resource,
			ResourceID:  req.ResourceID,
			Allowed:     decision.Allowed,
			Reason:      decision.Reason,
			FromCache:   fromCache,
		})
	}
}
