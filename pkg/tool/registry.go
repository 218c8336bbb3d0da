// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/agentcore/pkg/registry"
)

// Registry maps tool name to its Tool definition. Names may be namespaced
// as "<server>.<tool>" for MCP-style external tools; namespace resolution
// happens in Resolve, not in the underlying map key.
type Registry struct {
	*registry.BaseRegistry[Tool]
	toolsets map[string]Toolset
}

// Toolset lazily resolves tools under a namespace (e.g. an MCP server).
type Toolset interface {
	Name() string
	Tools() ([]Tool, error)
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
		toolsets:     make(map[string]Toolset),
	}
}

// RegisterToolset adds a namespaced toolset. Its tools are addressed as
// "<name>.<tool>" and resolved lazily via Resolve rather than eagerly
// registered, so an unreachable MCP server doesn't block startup.
func (r *Registry) RegisterToolset(ts Toolset) {
	r.toolsets[ts.Name()] = ts
}

// Resolve looks up a tool by its possibly-namespaced name.
func (r *Registry) Resolve(name string) (Tool, error) {
	if t, ok := r.Get(name); ok {
		return t, nil
	}

	if server, toolName, ok := strings.Cut(name, "."); ok {
		ts, exists := r.toolsets[server]
		if !exists {
			return Tool{}, fmt.Errorf("tool: unknown toolset %q", server)
		}
		tools, err := ts.Tools()
		if err != nil {
			return Tool{}, fmt.Errorf("tool: failed to list toolset %q: %w", server, err)
		}
		for _, t := range tools {
			if t.Name == toolName {
				return t, nil
			}
		}
		return Tool{}, fmt.Errorf("tool: %q not found in toolset %q", toolName, server)
	}

	return Tool{}, fmt.Errorf("tool: %q not found", name)
}

// Definitions returns {name, description, schema} triples for every
// directly registered tool, suitable for serializing into an LLM gateway
// call. Namespaced toolset tools are not eagerly enumerated here: hosts
// that want them advertised should register each resolved tool directly.
func (r *Registry) Definitions() []Definition {
	items := r.List()
	defs := make([]Definition, 0, len(items))
	for _, t := range items {
		defs = append(defs, Definition{Name: t.Name, Description: t.Description, Parameters: t.Schema})
	}
	return defs
}

// Definition is the provider-agnostic shape serialized into an LLM call.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}
