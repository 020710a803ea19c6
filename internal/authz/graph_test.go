package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraphRejectsCycle(t *testing.T) {
	_, err := NewDependencyGraph([]Dependency{
		{Resource: ResourceDocument, Action: ActionUpdate, Implies: ActionView},
		{Resource: ResourceDocument, Action: ActionView, Implies: ActionExport},
		{Resource: ResourceDocument, Action: ActionExport, Implies: ActionUpdate},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestDependencyGraphRejectsSelfImplication(t *testing.T) {
	_, err := NewDependencyGraph([]Dependency{
		{Resource: ResourceDocument, Action: ActionView, Implies: ActionView},
	})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestDependencyGraphRejectsIncompleteEdge(t *testing.T) {
	_, err := NewDependencyGraph([]Dependency{
		{Resource: ResourceDocument, Action: ActionView},
	})
	assert.Error(t, err)
}

func TestExpandComputesTransitiveClosure(t *testing.T) {
	graph, err := NewDependencyGraph([]Dependency{
		{Resource: ResourceProject, Action: ActionManage, Implies: ActionUpdate},
		{Resource: ResourceProject, Action: ActionUpdate, Implies: ActionView},
	})
	require.NoError(t, err)

	closure := graph.Expand([]Action{ActionManage}, ResourceProject)
	assert.Contains(t, closure, ActionManage)
	assert.Contains(t, closure, ActionUpdate)
	assert.Contains(t, closure, ActionView)
	assert.Len(t, closure, 3)
}

func TestExpandIsDirectional(t *testing.T) {
	graph, err := NewDependencyGraph(DefaultDependencies())
	require.NoError(t, err)

	closure := graph.Expand([]Action{ActionView}, ResourceDocument)
	assert.Contains(t, closure, ActionView)
	assert.NotContains(t, closure, ActionUpdate)
	assert.NotContains(t, closure, ActionDelete)
}

func TestExpandScopedPerResourceType(t *testing.T) {
	graph, err := NewDependencyGraph([]Dependency{
		{Resource: ResourceDocument, Action: ActionUpdate, Implies: ActionView},
	})
	require.NoError(t, err)

	closure := graph.Expand([]Action{ActionUpdate}, ResourceProject)
	assert.NotContains(t, closure, ActionView)
}

func TestExpandIdempotentAcrossCalls(t *testing.T) {
	graph, err := NewDependencyGraph(DefaultDependencies())
	require.NoError(t, err)

	first := graph.Expand([]Action{ActionDelete, ActionUpdate}, ResourceDocument)
	// Same grants in another order hit the memoized result.
	second := graph.Expand([]Action{ActionUpdate, ActionDelete}, ResourceDocument)
	assert.Equal(t, first, second)
}

func TestImplies(t *testing.T) {
	graph, err := NewDependencyGraph(DefaultDependencies())
	require.NoError(t, err)

	assert.True(t, graph.Implies([]Action{ActionUpdate}, ResourceDocument, ActionView))
	assert.False(t, graph.Implies([]Action{ActionView}, ResourceDocument, ActionUpdate))
	assert.False(t, graph.Implies(nil, ResourceDocument, ActionView))
}
