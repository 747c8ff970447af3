package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/roxid/pipeline"
)

// Graph is a dependency ordering over named nodes: the Kahn topological
// order plus parallel levels, where a level holds every node at the same
// maximum distance from a root. Nodes within a level have no ordering
// between them.
type Graph struct {
	Order  []string
	Levels [][]string
	deps   map[string][]string
}

// Deps returns the direct dependencies of a node.
func (g *Graph) Deps(name string) []string {
	return g.deps[name]
}

// BuildGraph orders nodes by their dependencies. It rejects references
// to unknown nodes and reports cycles with their membership.
func BuildGraph(nodes []string, deps func(string) []string) (*Graph, error) {
	index := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		index[node] = true
	}

	depMap := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	dependents := map[string][]string{}
	for _, node := range nodes {
		ds := deps(node)
		depMap[node] = ds
		inDegree[node] = len(ds)
		for _, dep := range ds {
			if !index[dep] {
				return nil, fmt.Errorf("'%s' depends on unknown node '%s'%s", node, dep, suggestClosest(dep, nodes))
			}
			dependents[dep] = append(dependents[dep], node)
		}
	}

	level := map[string]int{}
	var frontier []string
	for _, node := range nodes {
		if inDegree[node] == 0 {
			frontier = append(frontier, node)
			level[node] = 0
		}
	}

	g := &Graph{deps: depMap}
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		g.Order = append(g.Order, node)
		for _, next := range dependents[node] {
			if l := level[node] + 1; l > level[next] {
				level[next] = l
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}

	if len(g.Order) != len(nodes) {
		var cycle []string
		for _, node := range nodes {
			if inDegree[node] > 0 {
				cycle = append(cycle, node)
			}
		}
		return nil, fmt.Errorf("circular dependency between: %s", strings.Join(cycle, ", "))
	}

	maxLevel := 0
	for _, l := range level {
		if l > maxLevel {
			maxLevel = l
		}
	}
	g.Levels = make([][]string, maxLevel+1)
	for _, node := range g.Order {
		l := level[node]
		g.Levels[l] = append(g.Levels[l], node)
	}
	return g, nil
}

// StageGraph orders a normalized pipeline's stages.
func StageGraph(p *pipeline.Pipeline) (*Graph, error) {
	names := make([]string, 0, len(p.Stages))
	byName := map[string]*pipeline.Stage{}
	for i := range p.Stages {
		names = append(names, p.Stages[i].Stage)
		byName[p.Stages[i].Stage] = &p.Stages[i]
	}
	g, err := BuildGraph(names, func(name string) []string {
		return byName[name].DependsOn.Names
	})
	if err != nil {
		return nil, fmt.Errorf("stage graph: %w", err)
	}
	return g, nil
}

// JobGraph orders one stage's jobs. Jobs without an explicit dependsOn
// have no dependencies.
func JobGraph(jobs []pipeline.Job) (*Graph, error) {
	names := make([]string, 0, len(jobs))
	byName := map[string]*pipeline.Job{}
	for i := range jobs {
		id := jobs[i].ID()
		names = append(names, id)
		byName[id] = &jobs[i]
	}
	g, err := BuildGraph(names, func(name string) []string {
		return byName[name].DependsOn.Names
	})
	if err != nil {
		return nil, fmt.Errorf("job graph: %w", err)
	}
	return g, nil
}

// suggestClosest offers the nearest known name for a typo'd reference.
func suggestClosest(miss string, known []string) string {
	best := ""
	bestDist := len(miss)/2 + 1
	for _, candidate := range known {
		if d := editDistance(strings.ToLower(miss), strings.ToLower(candidate)); d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	if best == "" {
		sorted := append([]string{}, known...)
		sort.Strings(sorted)
		return fmt.Sprintf(" (known: %s)", strings.Join(sorted, ", "))
	}
	return fmt.Sprintf(" (did you mean '%s'?)", best)
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
