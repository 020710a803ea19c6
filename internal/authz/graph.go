package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DependencyGraph holds the directed action implication edges per resource
// type. Immutable after construction, safe for concurrent use.
type DependencyGraph struct {
	edges map[ResourceType]map[Action][]Action

	// Closure results keyed by resource type + sorted grant signature.
	// Expansion sits on the hot path of every uncached check.
	memo sync.Map
}

// NewDependencyGraph validates the edge set and returns the graph. A cycle in
// any resource type's edges returns an error wrapping ErrCycle; callers must
// refuse to start on it.
func NewDependencyGraph(deps []Dependency) (*DependencyGraph, error) {
	edges := make(map[ResourceType]map[Action][]Action)
	for _, dep := range deps {
		if dep.Resource == "" || dep.Action == "" || dep.Implies == "" {
			return nil, fmt.Errorf("authz: incomplete dependency %+v", dep)
		}
		if dep.Action == dep.Implies {
			return nil, fmt.Errorf("%w: %s:%s implies itself", ErrCycle, dep.Resource, dep.Action)
		}
		byAction, ok := edges[dep.Resource]
		if !ok {
			byAction = make(map[Action][]Action)
			edges[dep.Resource] = byAction
		}
		byAction[dep.Action] = append(byAction[dep.Action], dep.Implies)
	}
	for resource, byAction := range edges {
		if err := detectCycle(resource, byAction); err != nil {
			return nil, err
		}
	}
	return &DependencyGraph{edges: edges}, nil
}

// Expand returns the closure of actions reachable from the granted set for
// the resource type, including the granted actions themselves.
func (g *DependencyGraph) Expand(granted []Action, resource ResourceType) map[Action]struct{} {
	if g == nil || len(granted) == 0 {
		closure := make(map[Action]struct{}, len(granted))
		for _, action := range granted {
			closure[action] = struct{}{}
		}
		return closure
	}
	key := memoKey(granted, resource)
	if cached, ok := g.memo.Load(key); ok {
		return cached.(map[Action]struct{})
	}

	closure := make(map[Action]struct{}, len(granted))
	stack := make([]Action, 0, len(granted))
	for _, action := range granted {
		if _, seen := closure[action]; seen {
			continue
		}
		closure[action] = struct{}{}
		stack = append(stack, action)
	}
	byAction := g.edges[resource]
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, implied := range byAction[current] {
			if _, seen := closure[implied]; seen {
				continue
			}
			closure[implied] = struct{}{}
			stack = append(stack, implied)
		}
	}

	g.memo.Store(key, closure)
	return closure
}

// Implies reports whether the granted set reaches target for the resource.
func (g *DependencyGraph) Implies(granted []Action, resource ResourceType, target Action) bool {
	_, ok := g.Expand(granted, resource)[target]
	return ok
}

func memoKey(granted []Action, resource ResourceType) string {
	names := make([]string, len(granted))
	for i, action := range granted {
		names[i] = string(action)
	}
	sort.Strings(names)
	return string(resource) + "|" + strings.Join(names, ",")
}

const (
	colorUnvisited = iota
	colorVisiting
	colorDone
)

// detectCycle runs a three-color DFS over one resource type's edges.
func detectCycle(resource ResourceType, byAction map[Action][]Action) error {
	colors := make(map[Action]int, len(byAction))

	var visit func(Action) error
	visit = func(action Action) error {
		switch colors[action] {
		case colorVisiting:
			return fmt.Errorf("%w: resource %s, action %s", ErrCycle, resource, action)
		case colorDone:
			return nil
		}
		colors[action] = colorVisiting
		for _, implied := range byAction[action] {
			if err := visit(implied); err != nil {
				return err
			}
		}
		colors[action] = colorDone
		return nil
	}

	for action := range byAction {
		if err := visit(action); err != nil {
			return err
		}
	}
	return nil
}
