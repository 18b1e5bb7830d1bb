package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/katalvlaran/lvlath/graph/algorithms"
	"github.com/katalvlaran/lvlath/graph/core"

	"radt1cal/internal/services"
	"radt1cal/internal/stage"
)

// Ref points at a named output of a producing stage.
type Ref struct {
	Stage  string
	Output string
}

func (r Ref) String() string {
	return r.Stage + "." + r.Output
}

// Stage is a graph node: a tool plus its declared ports and parameters.
type Stage struct {
	Name    string
	Tool    stage.Tool
	Params  map[string]string
	Inputs  []stage.Port
	Outputs []stage.Port
}

func (s *Stage) port(ports []stage.Port, name string) (stage.Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return stage.Port{}, false
}

type binding struct {
	ref     *Ref
	literal *stage.Value
}

// Graph is a set of stages wired by typed producer to consumer edges.
type Graph struct {
	stages   map[string]*Stage
	names    []string
	bindings map[string]map[string]binding
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		stages:   make(map[string]*Stage),
		bindings: make(map[string]map[string]binding),
	}
}

func configErr(operation, message string) error {
	return services.Wrap(services.ErrConfiguration, "pipeline", operation, message, nil)
}

// Add registers a stage. Names must be unique and non-empty.
func (g *Graph) Add(s Stage) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return configErr("add stage", "stage name is required")
	}
	if _, exists := g.stages[name]; exists {
		return configErr("add stage", fmt.Sprintf("duplicate stage %q", name))
	}
	if s.Tool == nil {
		return configErr("add stage", fmt.Sprintf("stage %q has no tool", name))
	}
	seen := map[string]struct{}{}
	for _, p := range append(append([]stage.Port(nil), s.Inputs...), s.Outputs...) {
		key := p.Name
		if _, dup := seen[key]; dup {
			return configErr("add stage", fmt.Sprintf("stage %q declares port %q twice", name, key))
		}
		seen[key] = struct{}{}
	}
	s.Name = name
	stored := s
	g.stages[name] = &stored
	g.names = append(g.names, name)
	g.bindings[name] = make(map[string]binding)
	return nil
}

// Bind sets a literal value for a stage input.
func (g *Graph) Bind(stageName, input string, value stage.Value) error {
	consumer, ok := g.stages[stageName]
	if !ok {
		return configErr("bind", fmt.Sprintf("unknown stage %q", stageName))
	}
	port, ok := consumer.port(consumer.Inputs, input)
	if !ok {
		return configErr("bind", fmt.Sprintf("stage %q has no input %q", stageName, input))
	}
	if value.Kind != port.Kind {
		return configErr("bind", fmt.Sprintf("%s.%s expects %s, got %s", stageName, input, port.Kind, value.Kind))
	}
	v := value
	g.bindings[stageName][input] = binding{literal: &v}
	return nil
}

// Connect wires producer output from.output into consumer input to.input.
func (g *Graph) Connect(from, output, to, input string) error {
	producer, ok := g.stages[from]
	if !ok {
		return configErr("connect", fmt.Sprintf("unknown producer %q", from))
	}
	consumer, ok := g.stages[to]
	if !ok {
		return configErr("connect", fmt.Sprintf("unknown consumer %q", to))
	}
	out, ok := producer.port(producer.Outputs, output)
	if !ok {
		return configErr("connect", fmt.Sprintf("stage %q has no output %q", from, output))
	}
	in, ok := consumer.port(consumer.Inputs, input)
	if !ok {
		return configErr("connect", fmt.Sprintf("stage %q has no input %q", to, input))
	}
	if out.Kind != in.Kind {
		return configErr("connect", fmt.Sprintf("%s.%s (%s) cannot feed %s.%s (%s)", from, output, out.Kind, to, input, in.Kind))
	}
	if _, bound := g.bindings[to][input]; bound {
		return configErr("connect", fmt.Sprintf("%s.%s is already bound", to, input))
	}
	g.bindings[to][input] = binding{ref: &Ref{Stage: from, Output: output}}
	return nil
}

// Stages returns stage names in insertion order.
func (g *Graph) Stages() []string {
	return append([]string(nil), g.names...)
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (*Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Dependencies returns the sorted, distinct producers feeding name.
func (g *Graph) Dependencies(name string) []string {
	seen := map[string]struct{}{}
	var deps []string
	for _, b := range g.bindings[name] {
		if b.ref == nil {
			continue
		}
		if _, ok := seen[b.ref.Stage]; ok {
			continue
		}
		seen[b.ref.Stage] = struct{}{}
		deps = append(deps, b.ref.Stage)
	}
	sort.Strings(deps)
	return deps
}

// Validate checks that every input is bound and returns a topological order.
// Stages with no ordering constraint between them keep insertion order.
func (g *Graph) Validate(ctx context.Context) ([]string, error) {
	if len(g.stages) == 0 {
		return nil, configErr("validate", "graph has no stages")
	}
	dag := core.NewGraph(true, false)
	position := make(map[string]int, len(g.names))
	for i, name := range g.names {
		dag.AddVertex(&core.Vertex{ID: name})
		position[name] = i
	}
	for _, name := range g.names {
		s := g.stages[name]
		for _, in := range s.Inputs {
			if _, ok := g.bindings[name][in.Name]; !ok {
				return nil, configErr("validate", fmt.Sprintf("input %s.%s is not bound", name, in.Name))
			}
		}
		for _, dep := range g.Dependencies(name) {
			if dep == name {
				return nil, configErr("validate", fmt.Sprintf("cycle detected: %s -> %s", name, name))
			}
			if !dag.HasEdge(dep, name) {
				dag.AddEdge(dep, name, 0)
			}
		}
	}

	indegree := make(map[string]int, len(g.names))
	for _, edge := range dag.Edges() {
		indegree[edge.To.ID]++
	}
	var ready []string
	for _, name := range g.names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	order := make([]string, 0, len(g.names))
	for len(ready) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, next := range dag.Neighbors(name) {
			indegree[next.ID]--
			if indegree[next.ID] == 0 {
				ready = append(ready, next.ID)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
	}
	if len(order) == len(g.names) {
		return order, nil
	}

	ordered := make(map[string]struct{}, len(order))
	for _, name := range order {
		ordered[name] = struct{}{}
	}
	var remaining []string
	for _, name := range g.names {
		if _, ok := ordered[name]; !ok {
			remaining = append(remaining, name)
		}
	}
	message, err := describeCycle(ctx, dag, remaining)
	if err != nil {
		return nil, err
	}
	return nil, configErr("validate", message)
}

// describeCycle finds a path that leaves one of the stages left unordered and
// returns to it.
func describeCycle(ctx context.Context, dag *core.Graph, remaining []string) (string, error) {
	for _, start := range remaining {
		neighbors := dag.Neighbors(start)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].ID < neighbors[j].ID })
		for _, next := range neighbors {
			walk, err := algorithms.DFS(dag, next.ID, &algorithms.DFSOptions{Ctx: ctx})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return "", ctxErr
				}
				return "", configErr("validate", err.Error())
			}
			if !walk.Visited[start] {
				continue
			}
			back := []string{start}
			for current := start; current != next.ID; {
				current = walk.Parent[current]
				back = append(back, current)
			}
			path := []string{start}
			for i := len(back) - 1; i >= 0; i-- {
				path = append(path, back[i])
			}
			return "cycle detected: " + strings.Join(path, " -> "), nil
		}
	}
	return "cycle detected", nil
}

// resolveInputs materialises the input values of name from literals and the
// outputs already recorded in report.
func (g *Graph) resolveInputs(name string, report *Report) (map[string]stage.Value, error) {
	inputs := make(map[string]stage.Value, len(g.bindings[name]))
	for input, b := range g.bindings[name] {
		if b.literal != nil {
			inputs[input] = *b.literal
			continue
		}
		value, ok := report.Output(b.ref.Stage, b.ref.Output)
		if !ok {
			return nil, services.Wrap(services.ErrStageExecution, name, "resolve input",
				fmt.Sprintf("%s did not produce %s", b.ref.Stage, b.ref), nil)
		}
		inputs[input] = value
	}
	return inputs, nil
}
