package engine

import (
	"fmt"
	"sort"
	"strings"
)

// visit colours for depth-first traversal.
type colour uint8

const (
	white colour = iota // unvisited
	grey                // in progress
	black               // done
)

// Resolver computes dependency orderings over a package registry snapshot.
// It holds no state; every method is a pure function of its inputs.
type Resolver struct{}

// NewResolver creates a new dependency resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns target and its transitive dependencies ordered so that every
// dependency appears before its dependents. The target is always last.
// Dependencies are visited in sorted order so the result is deterministic.
func (r *Resolver) Resolve(target string, pkgs map[string]*Package) ([]string, error) {
	if _, ok := pkgs[target]; !ok {
		return nil, newUnknownPackageError(target)
	}

	marks := make(map[string]colour, len(pkgs))
	order := make([]string, 0, len(pkgs))
	path := make([]string, 0, 8)

	var visit func(id string) error
	visit = func(id string) error {
		marks[id] = grey
		path = append(path, id)

		for _, dep := range sortedCopy(pkgs[id].Dependencies) {
			if _, ok := pkgs[dep]; !ok {
				return newUnknownDependencyError(id, dep)
			}
			switch marks[dep] {
			case grey:
				return newCycleError(cyclePath(path, dep))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		marks[id] = black
		order = append(order, id)
		return nil
	}

	if err := visit(target); err != nil {
		return nil, err
	}
	return order, nil
}

// ResolveDependents returns target and every package that transitively depends
// on it, ordered so that dependents appear before the packages they depend on.
// The target is always last.
func (r *Resolver) ResolveDependents(target string, pkgs map[string]*Package) ([]string, error) {
	if _, ok := pkgs[target]; !ok {
		return nil, newUnknownPackageError(target)
	}

	reverse := reverseEdges(pkgs)
	marks := make(map[string]colour, len(pkgs))
	order := make([]string, 0)
	path := make([]string, 0, 8)

	var visit func(id string) error
	visit = func(id string) error {
		marks[id] = grey
		path = append(path, id)

		for _, dependent := range reverse[id] {
			switch marks[dependent] {
			case grey:
				// Report the cycle in dependency direction.
				cycle := cyclePath(path, dependent)
				reverseInPlace(cycle)
				return newCycleError(cycle)
			case white:
				if err := visit(dependent); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		marks[id] = black
		order = append(order, id)
		return nil
	}

	if err := visit(target); err != nil {
		return nil, err
	}
	return order, nil
}

// Levels groups every package into dependency levels: level 0 has no
// dependencies, level n depends only on packages in lower levels. Packages on
// a cycle or depending on an unknown package cause an error.
func (r *Resolver) Levels(pkgs map[string]*Package) ([][]string, error) {
	inDegree := make(map[string]int, len(pkgs))
	for id, p := range pkgs {
		for _, dep := range p.Dependencies {
			if _, ok := pkgs[dep]; !ok {
				return nil, newUnknownDependencyError(id, dep)
			}
		}
		inDegree[id] = len(p.Dependencies)
	}
	reverse := reverseEdges(pkgs)

	current := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			current = append(current, id)
		}
	}
	sort.Strings(current)

	levels := make([][]string, 0)
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range reverse[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(pkgs) {
		// Find a concrete cycle to report.
		for _, id := range sortedKeys(pkgs) {
			if inDegree[id] > 0 {
				if _, err := r.Resolve(id, pkgs); err != nil {
					return nil, err
				}
			}
		}
		return nil, NewPermanentError("failed to order all packages", nil).WithCode(ErrCodeCycleDetected)
	}

	return levels, nil
}

// ToDOT generates a DOT representation of the dependency graph, grouped by
// level and coloured by lifecycle state. The output can be rendered with Graphviz.
func (r *Resolver) ToDOT(pkgs map[string]*Package) (string, error) {
	levels, err := r.Levels(pkgs)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph Packages {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			p := pkgs[id]
			label := id
			if p.Version != "" {
				label = fmt.Sprintf("%s\\n%s", id, p.Version)
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, stateColour(p.State)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range sortedKeys(pkgs) {
		for _, dep := range sortedCopy(pkgs[id].Dependencies) {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", id, dep))
		}
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

// reverseEdges maps each package to the sorted list of packages depending on it.
func reverseEdges(pkgs map[string]*Package) map[string][]string {
	reverse := make(map[string][]string, len(pkgs))
	for _, id := range sortedKeys(pkgs) {
		for _, dep := range pkgs[id].Dependencies {
			if _, ok := pkgs[dep]; ok {
				reverse[dep] = append(reverse[dep], id)
			}
		}
	}
	return reverse
}

// cyclePath extracts the cycle closed by revisiting id from the current DFS path.
func cyclePath(path []string, id string) []string {
	for i, p := range path {
		if p == id {
			cycle := append([]string(nil), path[i:]...)
			return append(cycle, id)
		}
	}
	return []string{id, id}
}

func reverseInPlace(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedKeys(pkgs map[string]*Package) []string {
	keys := make([]string, 0, len(pkgs))
	for id := range pkgs {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// stateColour returns a fill colour for visualising lifecycle states.
func stateColour(s LifecycleState) string {
	switch s {
	case StateEnabled:
		return "lightgreen"
	case StateDisabled:
		return "lightblue"
	default:
		return "lightgray"
	}
}
