package perf

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/praetor-io/praetor/internal/authz"
)

type syntheticRoleStore struct{}

func (syntheticRoleStore) GetPermissions(ctx context.Context, principalID, tenantID string) ([]authz.Permission, error) {
	return []authz.Permission{
		{Action: authz.ActionUpdate, Resource: authz.ResourceDocument, Scope: authz.ScopeAny},
	}, nil
}

func (syntheticRoleStore) HasGlobalRole(ctx context.Context, principalID string) (bool, error) {
	return false, nil
}

type syntheticMembers struct{}

func (syntheticMembers) GetEntityPath(ctx context.Context, principalID, tenantID string) (authz.EntityPath, error) {
	return nil, nil
}

type syntheticResources struct{}

func (syntheticResources) ResolveResource(ctx context.Context, resource authz.ResourceType, resourceID string) (authz.ResourceAttributes, error) {
	return authz.ResourceAttributes{TenantID: "T1"}, nil
}

func newSyntheticResolver(t *testing.T) *authz.Resolver {
	t.Helper()
	graph, err := authz.NewDependencyGraph(authz.DefaultDependencies())
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	cache := authz.NewCache(nil, 32768, time.Minute, nil)
	return authz.NewResolver(authz.DefaultVocabulary(), graph, syntheticRoleStore{},
		syntheticMembers{}, syntheticResources{}, cache, nil, nil, nil, authz.ResolverConfig{})
}

// TestCheckLatencyTargets runs a 10k-request synthetic load with in-process
// collaborators: warm checks must stay under 5ms p95, cold under 50ms p95.
func TestCheckLatencyTargets(t *testing.T) {
	if testing.Short() {
		t.Skip("synthetic load skipped in short mode")
	}
	resolver := newSyntheticResolver(t)
	ctx := context.Background()

	const total = 10000

	warmReq := authz.CheckRequest{
		PrincipalID: "u1", TenantID: "T1", Action: authz.ActionView, Resource: authz.ResourceDocument, ResourceID: "d1",
	}
	if _, err := resolver.Check(ctx, warmReq); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	warm := make([]time.Duration, 0, total)
	for i := 0; i < total; i++ {
		start := time.Now()
		if _, err := resolver.Check(ctx, warmReq); err != nil {
			t.Fatalf("warm check: %v", err)
		}
		warm = append(warm, time.Since(start))
	}
	if p95 := percentile95(warm); p95 > 5*time.Millisecond {
		t.Fatalf("warm latency regression: p95=%s threshold=5ms", p95)
	}

	cold := make([]time.Duration, 0, total)
	for i := 0; i < total; i++ {
		req := authz.CheckRequest{
			PrincipalID: "u1", TenantID: "T1", Action: authz.ActionView,
			Resource: authz.ResourceDocument, ResourceID: fmt.Sprintf("cold-%d", i),
		}
		start := time.Now()
		if _, err := resolver.Check(ctx, req); err != nil {
			t.Fatalf("cold check: %v", err)
		}
		cold = append(cold, time.Since(start))
	}
	if p95 := percentile95(cold); p95 > 50*time.Millisecond {
		t.Fatalf("cold latency regression: p95=%s threshold=50ms", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
