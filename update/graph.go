package update

import (
	"container/heap"

	"github.com/syssam/veloxrt"
)

// graph is the dependency graph of commands. An edge a -> b means a must
// execute before b. Breakable edges may be dropped to resolve a cycle.
type graph struct {
	nodes []*ModificationCommand
	out   [][]int
	edges map[[2]int]bool // value is breakable
}

func newGraph(nodes []*ModificationCommand) *graph {
	return &graph{
		nodes: nodes,
		out:   make([][]int, len(nodes)),
		edges: make(map[[2]int]bool),
	}
}

// add inserts a -> b. A required edge overrides a breakable one.
func (g *graph) add(a, b int, breakable bool) {
	if a == b {
		return
	}
	k := [2]int{a, b}
	if was, ok := g.edges[k]; ok {
		g.edges[k] = was && breakable
		return
	}
	g.edges[k] = breakable
	g.out[a] = append(g.out[a], b)
}

func (g *graph) remove(a, b int) {
	delete(g.edges, [2]int{a, b})
	out := g.out[a][:0]
	for _, n := range g.out[a] {
		if n != b {
			out = append(out, n)
		}
	}
	g.out[a] = out
}

func (g *graph) has(a, b int) bool {
	_, ok := g.edges[[2]int{a, b}]
	return ok
}

// components returns the strongly connected components with more than
// one node, using Tarjan's algorithm.
func (g *graph) components() [][]int {
	var (
		index   = make([]int, len(g.nodes))
		low     = make([]int, len(g.nodes))
		onStack = make([]bool, len(g.nodes))
		stack   []int
		next    = 1
		comps   [][]int
	)
	var visit func(v int)
	visit = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.out[v] {
			switch {
			case index[w] == 0:
				visit(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 {
			comps = append(comps, comp)
		}
	}
	for v := range g.nodes {
		if index[v] == 0 {
			visit(v)
		}
	}
	return comps
}

// breakCycles drops breakable edges inside cycles until the graph is
// acyclic. A cycle without breakable edges is a *veloxrt.CycleError.
func (g *graph) breakCycles() error {
	for {
		comps := g.components()
		if len(comps) == 0 {
			return nil
		}
		for _, comp := range comps {
			in := make(map[int]bool, len(comp))
			for _, v := range comp {
				in[v] = true
			}
			var drop [][2]int
			for _, v := range comp {
				for _, w := range g.out[v] {
					if in[w] && g.edges[[2]int{v, w}] {
						drop = append(drop, [2]int{v, w})
					}
				}
			}
			if len(drop) == 0 {
				return g.cycleError(comp)
			}
			for _, e := range drop {
				g.remove(e[0], e[1])
			}
		}
	}
}

func (g *graph) cycleError(comp []int) error {
	names := make([]string, 0, len(comp)+1)
	order := g.sortNodes(comp)
	for _, v := range order {
		names = append(names, g.nodes[v].String())
	}
	names = append(names, names[0])
	return &veloxrt.CycleError{Commands: names}
}

func (g *graph) sortNodes(nodes []int) []int {
	h := &nodeHeap{g: g, items: append([]int(nil), nodes...)}
	heap.Init(h)
	out := make([]int, 0, len(nodes))
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(int))
	}
	return out
}

// sort orders the nodes topologically. Among ready nodes the command
// order decides, which makes the result independent of input order.
func (g *graph) sort() ([]int, error) {
	indegree := make([]int, len(g.nodes))
	for _, outs := range g.out {
		for _, w := range outs {
			indegree[w]++
		}
	}
	h := &nodeHeap{g: g}
	for v, d := range indegree {
		if d == 0 {
			h.items = append(h.items, v)
		}
	}
	heap.Init(h)
	order := make([]int, 0, len(g.nodes))
	for h.Len() > 0 {
		v := heap.Pop(h).(int)
		order = append(order, v)
		for _, w := range g.out[v] {
			if indegree[w]--; indegree[w] == 0 {
				heap.Push(h, w)
			}
		}
	}
	if len(order) != len(g.nodes) {
		var rest []int
		for v, d := range indegree {
			if d > 0 {
				rest = append(rest, v)
			}
		}
		return nil, g.cycleError(rest)
	}
	return order, nil
}

type nodeHeap struct {
	g     *graph
	items []int
}

func (h *nodeHeap) Len() int           { return len(h.items) }
func (h *nodeHeap) Less(i, j int) bool { return compareCommands(h.g.nodes[h.items[i]], h.g.nodes[h.items[j]]) < 0 }
func (h *nodeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *nodeHeap) Push(x any)         { h.items = append(h.items, x.(int)) }
func (h *nodeHeap) Pop() any {
	n := len(h.items)
	v := h.items[n-1]
	h.items = h.items[:n-1]
	return v
}
