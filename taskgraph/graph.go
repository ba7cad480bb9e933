// Package taskgraph runs named build tasks. Tasks are either actions or
// compositions of other tasks that run in series or in parallel. A Graph is
// declared once and compiled into a Runner whose plan is fixed.
package taskgraph

import (
	"context"
	"sort"
	"strings"
)

type Kind int

const (
	KindAction Kind = iota
	KindSeries
	KindParallel
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindSeries:
		return "series"
	case KindParallel:
		return "parallel"
	}
	return "unknown"
}

// Action is the body of a leaf task.
type Action func(ctx context.Context) error

// Composition says how a task is made up. The zero value is a leaf.
type Composition struct {
	Kind    Kind
	Members []string
}

func Leaf() Composition { return Composition{Kind: KindAction} }

// Series runs members one after another, each finishing before the next.
func Series(members ...string) Composition {
	return Composition{Kind: KindSeries, Members: members}
}

// Parallel runs members concurrently and finishes when all of them have.
func Parallel(members ...string) Composition {
	return Composition{Kind: KindParallel, Members: members}
}

type task struct {
	name        string
	composition Composition
	action      Action
}

type Graph struct {
	tasks map[string]*task
}

func New() *Graph {
	return &Graph{tasks: map[string]*task{}}
}

// Register declares a task. Leaves need an action, compositions must not
// have one.
func (g *Graph) Register(name string, c Composition, action Action) error {
	if name == "" {
		return invalidf("task name is required")
	}
	if _, exists := g.tasks[name]; exists {
		return invalidf("duplicate task name: %q", name)
	}
	switch c.Kind {
	case KindAction:
		if action == nil {
			return invalidf("task %q has no action", name)
		}
		if len(c.Members) > 0 {
			return invalidf("action task %q cannot have members", name)
		}
	case KindSeries, KindParallel:
		if action != nil {
			return invalidf("%s task %q cannot have an action", c.Kind, name)
		}
		if len(c.Members) == 0 {
			return invalidf("%s task %q has no members", c.Kind, name)
		}
	default:
		return invalidf("task %q has unknown kind %d", name, c.Kind)
	}
	g.tasks[name] = &task{
		name:        name,
		composition: Composition{Kind: c.Kind, Members: append([]string(nil), c.Members...)},
		action:      action,
	}
	return nil
}

// MustRegister is Register for static declarations.
func (g *Graph) MustRegister(name string, c Composition, action Action) {
	if err := g.Register(name, c, action); err != nil {
		panic(err)
	}
}

// node is a task with its members resolved. Tasks referenced from several
// places share one node.
type node struct {
	name    string
	kind    Kind
	action  Action
	members []*node
}

// Compile resolves every member reference and rejects unknown members and
// cycles.
func (g *Graph) Compile() (*Runner, error) {
	names := make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := make(map[string]*node, len(g.tasks))
	for _, name := range names {
		t := g.tasks[name]
		nodes[name] = &node{name: name, kind: t.composition.Kind, action: t.action}
	}
	for _, name := range names {
		n := nodes[name]
		for _, member := range g.tasks[name].composition.Members {
			m, ok := nodes[member]
			if !ok {
				return nil, invalidf("task %q references unknown task %q", name, member)
			}
			n.members = append(n.members, m)
		}
	}

	const (
		white = iota
		gray
		black
	)
	color := map[*node]int{}
	var stack []string
	var visit func(n *node) error
	visit = func(n *node) error {
		color[n] = gray
		stack = append(stack, n.name)
		for _, m := range n.members {
			switch color[m] {
			case gray:
				start := 0
				for i, s := range stack {
					if s == m.name {
						start = i
					}
				}
				return cycleError(append(append([]string(nil), stack[start:]...), m.name))
			case white:
				if err := visit(m); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}
	for _, name := range names {
		if color[nodes[name]] == white {
			if err := visit(nodes[name]); err != nil {
				return nil, err
			}
		}
	}

	return &Runner{nodes: nodes, names: names, running: map[string]*run{}}, nil
}

// describe renders the plan rooted at n, e.g. "series(parallel(a, b), c)".
func (n *node) describe(sb *strings.Builder) {
	if n.kind == KindAction {
		sb.WriteString(n.name)
		return
	}
	sb.WriteString(n.kind.String())
	sb.WriteByte('(')
	for i, m := range n.members {
		if i > 0 {
			sb.WriteString(", ")
		}
		m.describe(sb)
	}
	sb.WriteByte(')')
}
