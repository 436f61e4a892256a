package rules

import (
	"fmt"
	"sort"
	"sync"
)

// DependencyManager stores rule predecessor edges in a side table keyed by
// stable rule ids, so cyclic references never create ownership cycles.
type DependencyManager struct {
	mu sync.RWMutex
	// dependencies maps rule id -> ids it depends on (predecessors).
	dependencies map[string]map[string]bool
	// dependents is the reverse index.
	dependents map[string]map[string]bool
	nodes      map[string]bool
}

// NewDependencyManager creates an empty dependency graph.
func NewDependencyManager() *DependencyManager {
	return &DependencyManager{
		dependencies: make(map[string]map[string]bool),
		dependents:   make(map[string]map[string]bool),
		nodes:        make(map[string]bool),
	}
}

// AddNode registers a rule id with no edges.
func (m *DependencyManager) AddNode(id string) {
	m.mu.Lock()
	m.nodes[id] = true
	m.mu.Unlock()
}

// RemoveNode deletes a rule and all edges touching it.
func (m *DependencyManager) RemoveNode(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	delete(m.dependencies, id)
	for _, deps := range m.dependencies {
		delete(deps, id)
	}
	delete(m.dependents, id)
	for _, deps := range m.dependents {
		delete(deps, id)
	}
}

// AddEdge declares that dependent requires dependency to run first.
func (m *DependencyManager) AddEdge(dependent, dependency string) error {
	if dependent == dependency {
		return fmt.Errorf("rule %q cannot depend on itself", dependent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dependencies[dependent] == nil {
		m.dependencies[dependent] = make(map[string]bool)
	}
	m.dependencies[dependent][dependency] = true
	if m.dependents[dependency] == nil {
		m.dependents[dependency] = make(map[string]bool)
	}
	m.dependents[dependency][dependent] = true
	m.nodes[dependent] = true
	m.nodes[dependency] = true
	return nil
}

// Dependencies returns the predecessors of a rule.
func (m *DependencyManager) Dependencies(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.dependencies[id])
}

// Dependents returns the rules waiting on id.
func (m *DependencyManager) Dependents(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.dependents[id])
}

// TopologicalOrder sorts the graph, reporting cycles and missing rules.
// The traversal is iterative so deep graphs cannot overflow the stack.
func (m *DependencyManager) TopologicalOrder() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, deps := range m.dependencies {
		for dep := range deps {
			if !m.nodes[dep] {
				return nil, fmt.Errorf("rule %q depends on missing rule %q", id, dep)
			}
		}
	}

	// Kahn's algorithm over the predecessor counts.
	inDegree := make(map[string]int, len(m.nodes))
	for id := range m.nodes {
		inDegree[id] = len(m.dependencies[id])
	}

	queue := make([]string, 0, len(m.nodes))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(m.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := sortedKeys(m.dependents[id])
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(m.nodes) {
		var cycle []string
		for id, degree := range inDegree {
			if degree > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("dependency cycle among rules: %v", cycle)
	}
	return order, nil
}

// Ready returns the ids whose predecessors are all in completed.
func (m *DependencyManager) Ready(ids []string, completed map[string]bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ready []string
	for _, id := range ids {
		if completed[id] {
			continue
		}
		ok := true
		for dep := range m.dependencies[id] {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
