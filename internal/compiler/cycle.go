package compiler

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// CycleWarning represents a feedback loop between variants.
//
// Cycles are warnings, not errors, because they are often intentional:
//   - A counter that reacts to its own change until a limit
//   - Two entities that converge on each other's values
//   - A retiring entity that stops the loop on its last event
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles reports feedback loops in a set of variant declarations.
//
// Nodes are event variants. There is an edge X -> Y when some variant W
// depends on X and handling X produces Y: W's own change event, or the
// message W emits, or the entity W spawns. A strongly connected component
// with more than one node, or a node with a self-loop, can keep the
// dispatch loop busy forever unless something bounds it.
//
// Cycles where at least one handling variant has a match or retires are
// reported at level "info"; unbounded ones at level "warning". Such runs
// still need a tick budget or a timeout.
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(variants []ir.VariantSpec) []CycleWarning {
	if len(variants) == 0 {
		return []CycleWarning{}
	}

	graph, handlers := buildDependencyGraph(variants)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warning := cycleSCCToWarning(scc, graph)
			if bounded(scc, handlers) {
				warning.Level = "info"
			}
			warnings = append(warnings, warning)
		}
	}

	return warnings
}

// dependencyGraph maps event variant -> event variants its handling produces.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the event graph and, for each event
// variant, the variants that handle it.
func buildDependencyGraph(variants []ir.VariantSpec) (dependencyGraph, map[string][]*ir.VariantSpec) {
	graph := make(dependencyGraph)
	handlers := make(map[string][]*ir.VariantSpec)

	for i := range variants {
		w := &variants[i]
		if graph[w.Name] == nil {
			graph[w.Name] = []string{}
		}

		produces := []string{w.Name}
		if w.Emit != "" {
			produces = append(produces, w.Emit)
		}
		if w.Spawn != "" {
			produces = append(produces, w.Spawn)
		}

		for _, d := range w.DependsOn {
			handlers[d] = append(handlers[d], w)
			for _, p := range produces {
				if !slices.Contains(graph[d], p) {
					graph[d] = append(graph[d], p)
				}
			}
		}
	}

	return graph, handlers
}

// bounded reports whether some variant handling an event inside the cycle
// filters its events or retires.
func bounded(scc []string, handlers map[string][]*ir.VariantSpec) bool {
	inSCC := make(map[string]bool, len(scc))
	for _, n := range scc {
		inSCC[n] = true
	}
	for _, n := range scc {
		for _, w := range handlers[n] {
			if !inSCC[w.Name] && !inSCC[w.Emit] && !inSCC[w.Spawn] {
				continue
			}
			if w.Match != nil || (w.Action != nil && w.Action.Kind == ir.ActionRetire) {
				return true
			}
		}
	}
	return false
}

// sccFinder is Tarjan's strongly connected components algorithm over a
// dependencyGraph.
type sccFinder struct {
	graph   dependencyGraph
	next    int
	index   map[string]int
	low     map[string]int
	onStack map[string]bool
	stack   []string
	out     [][]string
}

// tarjanSCC returns the graph's strongly connected components. Nodes are
// visited in name order so the result is stable across runs.
func tarjanSCC(graph dependencyGraph) [][]string {
	f := &sccFinder{
		graph:   graph,
		index:   make(map[string]int),
		low:     make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, node := range slices.Sorted(maps.Keys(graph)) {
		if _, seen := f.index[node]; !seen {
			f.visit(node)
		}
	}
	return f.out
}

func (f *sccFinder) visit(v string) {
	f.index[v] = f.next
	f.low[v] = f.next
	f.next++
	f.stack = append(f.stack, v)
	f.onStack[v] = true

	for _, w := range f.graph[v] {
		if _, seen := f.index[w]; !seen {
			f.visit(w)
			f.low[v] = min(f.low[v], f.low[w])
		} else if f.onStack[w] {
			f.low[v] = min(f.low[v], f.index[w])
		}
	}

	if f.low[v] != f.index[v] {
		return
	}
	var scc []string
	for {
		w := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]
		f.onStack[w] = false
		scc = append(scc, w)
		if w == v {
			break
		}
	}
	f.out = append(f.out, scc)
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// cycleSCCToWarning describes one cyclic component. A self-loop's path is
// [v, v]; a larger component gets a closed walk through its members.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		v := scc[0]
		return CycleWarning{
			Path:    []string{v, v},
			Message: fmt.Sprintf("Self-triggering variant: %s → %s", v, v),
			Level:   "warning",
		}
	}

	path := cyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// cyclePath walks from the component's first member along edges that stay
// inside the component, preferring unvisited members, until it returns to
// the start.
func cyclePath(scc []string, graph dependencyGraph) []string {
	start := scc[0]
	path := []string{start}
	seen := map[string]bool{start: true}

	for cur := start; ; {
		next := ""
		for _, n := range graph[cur] {
			if slices.Contains(scc, n) && (n == start || !seen[n]) {
				next = n
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		seen[next] = true
		cur = next
	}
}
