package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/openfroyo/haproxyctl/pkg/model"
)

// batchGraph is the dependency graph of a batch. An edge from a to b means
// item a must be reconciled before item b.
type batchGraph struct {
	items []BatchItem

	// index maps resource keys to item positions
	index map[string]int

	// dependents maps an item to the items waiting for it
	dependents [][]int

	// inDegree tracks the number of incoming edges for each item
	inDegree []int
}

// newBatchGraph links every item to the other batch items it refers to.
// References to resources outside the batch add no edge.
func newBatchGraph(items []BatchItem) *batchGraph {
	g := &batchGraph{
		items:      items,
		index:      make(map[string]int, len(items)),
		dependents: make([][]int, len(items)),
		inDegree:   make([]int, len(items)),
	}
	for i, item := range items {
		g.index[item.Key.String()] = i
	}
	for i, item := range items {
		if p := item.Key.Parent; p != nil {
			g.reference(i, model.Key{Kind: p.Kind, Name: p.Name})
		}
		if f, ok := item.Desired.(*model.Frontend); ok {
			if name, ok := f.DefaultBackend.Get(); ok {
				g.reference(i, model.BackendKey(name))
			}
		}
	}
	return g
}

// reference records that item i refers to target. A present item waits for
// the target to exist; a removed target waits for its referrers.
func (g *batchGraph) reference(i int, target model.Key) {
	j, ok := g.index[target.String()]
	if !ok || i == j {
		return
	}
	switch {
	case g.items[j].State == StateAbsent:
		g.addEdge(i, j)
	case g.items[i].State != StateAbsent:
		g.addEdge(j, i)
	}
}

func (g *batchGraph) addEdge(from, to int) {
	if slices.Contains(g.dependents[from], to) {
		return
	}
	g.dependents[from] = append(g.dependents[from], to)
	g.inDegree[to]++
}

// order returns the items in execution order using Kahn's algorithm. Among
// the items that are ready, removals go first, then higher kind priority,
// then the caller's order.
func (g *batchGraph) order() ([]BatchItem, error) {
	inDegree := slices.Clone(g.inDegree)
	ready := make([]int, 0, len(g.items))
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]BatchItem, 0, len(g.items))
	for len(ready) > 0 {
		best := 0
		for k := 1; k < len(ready); k++ {
			if g.runsBefore(ready[k], ready[best]) {
				best = k
			}
		}
		i := ready[best]
		ready = slices.Delete(ready, best, best+1)
		out = append(out, g.items[i])

		for _, dep := range g.dependents[i] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(g.items) {
		var stuck []string
		for i, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, g.items[i].Key.String())
			}
		}
		return nil, NewValidationError(
			fmt.Sprintf("circular dependency between %s", strings.Join(stuck, ", ")), nil,
		).WithOperation("reconcile.batch")
	}
	return out, nil
}

func (g *batchGraph) runsBefore(a, b int) bool {
	pa, pb := batchPriority(g.items[a]), batchPriority(g.items[b])
	if pa != pb {
		return pa > pb
	}
	return a < b
}

// BatchOrder returns the items of a batch in the order ReconcileBatch
// applies them.
func BatchOrder(items []BatchItem) ([]BatchItem, error) {
	return newBatchGraph(items).order()
}

// BatchDOT renders the batch dependency graph in DOT format, numbering
// nodes by execution order. The output can be rendered with Graphviz tools.
func BatchDOT(items []BatchItem) (string, error) {
	g := newBatchGraph(items)
	ordered, err := g.order()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph Batch {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=\"filled,rounded\"];\n\n")

	for n, item := range ordered {
		state := item.State
		if state == "" {
			state = StatePresent
		}
		fmt.Fprintf(&sb, "  %q [label=\"%d. %s\\n%s\", fillcolor=%q];\n",
			item.Key.String(), n+1, item.Key, state, stateColor(state))
	}
	if len(ordered) > 0 {
		sb.WriteString("\n")
	}

	for i, deps := range g.dependents {
		for _, j := range deps {
			fmt.Fprintf(&sb, "  %q -> %q;\n", g.items[i].Key.String(), g.items[j].Key.String())
		}
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

func stateColor(s TargetState) string {
	if s == StateAbsent {
		return "lightcoral"
	}
	return "lightgreen"
}
