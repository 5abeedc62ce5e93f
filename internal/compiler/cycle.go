package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iml130/mf-plugin/internal/ir"
)

// CycleWarning represents a potential cycle between rules or tasks.
//
// Cycles are warnings, not errors. A recursive rule may terminate on the
// data it reads; the evaluator's depth limit catches the rest. A task
// that restarts itself through OnDone is a legitimate production loop,
// bounded at run time by the task instance quota.
type CycleWarning struct {
	Kind    string   `json:"kind"`    // "rule" or "task"
	Path    []string `json:"path"`    // ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeRuleCycles reports rules that can call themselves, directly or
// through other rules (including parameter defaults).
func AnalyzeRuleCycles(p *ir.Program) []CycleWarning {
	graph := make(dependencyGraph, len(p.Rules))
	for name, r := range p.Rules {
		graph[name] = nil
		var exprs []ir.Expr
		exprs = append(exprs, r.Body...)
		for _, prm := range r.Params {
			exprs = append(exprs, prm.Default)
		}
		for _, e := range exprs {
			ir.WalkExpr(e, func(n ir.Expr) bool {
				if call, ok := n.(*ir.RuleCall); ok {
					if _, known := p.Rules[call.Rule]; known {
						graph[name] = append(graph[name], call.Rule)
					}
				}
				return true
			})
		}
	}
	return cycles(graph, "rule", "warning")
}

// AnalyzeTaskCycles reports tasks that can instantiate themselves through
// OnDone references or task calls. Call cycles never finish and are
// warnings; OnDone loops are informational.
func AnalyzeTaskCycles(p *ir.Program) []CycleWarning {
	graph := make(dependencyGraph, len(p.Tasks))
	calls := make(dependencyGraph, len(p.Tasks))
	for name, t := range p.Tasks {
		graph[name] = nil
		calls[name] = nil
		for _, stmt := range t.Statements {
			switch s := stmt.(type) {
			case *ir.TaskCall:
				if _, ok := p.Tasks[s.Task]; ok {
					graph[name] = append(graph[name], s.Task)
					calls[name] = append(calls[name], s.Task)
				}
			case *ir.TransportOrder:
				graph[name] = append(graph[name], onDone(p, append(append([]string{}, s.From...), s.To))...)
			case *ir.MoveOrder:
				graph[name] = append(graph[name], onDone(p, []string{s.Step})...)
			case *ir.ActionOrder:
				graph[name] = append(graph[name], onDone(p, []string{s.Step})...)
			}
		}
	}

	warnings := cycles(calls, "task", "warning")
	for i := range warnings {
		warnings[i].Message = "Task call cycle never finishes: " + strings.Join(warnings[i].Path, " → ")
	}
	callCycle := map[string]bool{}
	for _, w := range warnings {
		callCycle[w.Path[0]] = true
	}
	for _, w := range cycles(graph, "task", "info") {
		if !callCycle[w.Path[0]] {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

func onDone(p *ir.Program, steps []string) []string {
	var out []string
	for _, name := range steps {
		if s, ok := p.Steps[name]; ok && s.OnDone != "" {
			if _, known := p.Tasks[s.OnDone]; known {
				out = append(out, s.OnDone)
			}
		}
	}
	return out
}

// dependencyGraph maps a node to the nodes it can trigger.
type dependencyGraph map[string][]string

func cycles(graph dependencyGraph, kind, level string) []CycleWarning {
	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph, kind, level))
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Path[0] < warnings[j].Path[0] })
	return warnings
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes and edges are visited in sorted order so results are stable.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		succ := append([]string(nil), graph[v]...)
		sort.Strings(succ)
		for _, w := range succ {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedKeys(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph, kind, level string) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Kind:    kind,
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-referencing %s: %s → %s", kind, name, name),
			Level:   level,
		}
	}
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Kind:    kind,
		Path:    path,
		Message: fmt.Sprintf("Potential %s cycle: %s", kind, strings.Join(path, " → ")),
		Level:   level,
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		succ := append([]string(nil), graph[current]...)
		sort.Strings(succ)

		var next string
		for _, neighbor := range succ {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
