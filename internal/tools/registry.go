// Package tools implements the opaque string-in/string-out tool functors
// the orchestrator's tool loop invokes (spec §1 Non-goals: "the core does
// not own any tool's business logic"). A tool is a pure function from a
// JSON argument map to a result string; the registry only knows names and
// JSON schemas, never tool internals.
package tools

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
)

// Func is one tool's implementation: takes the LLM-supplied argument map,
// returns the raw result string (classification into [TOOL_ERROR]/
// [NO_RESULTS] happens in the orchestrator's tool loop, not here).
type Func func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool pairs a schema the LLM sees with the functor that executes it.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Run         Func
}

// Registry is the process-wide set of available tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// ProviderDefs returns the tool schemas in registration order, in the
// shape the provider layer's chat contract expects (§4.1).
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Execute runs one tool call by name. An unknown tool name is itself a
// tool-level error, stringified like any other (§7: "tool errors do not
// propagate").
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	t, ok := r.tools[name]
	if !ok {
		return "Error: unknown tool " + name
	}
	result, err := t.Run(ctx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}

// DecodeArgs is a small helper tools use to turn the untyped argument map
// back into a typed struct, matching the "each tool registers a validator"
// approach the spec's Open Questions section calls for around
// dynamic-typed JSON tool arguments.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
