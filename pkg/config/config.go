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

// Package config loads the host-provided configuration: the operational
// knobs in this package, plus one or more AgentDefinitions, from a YAML
// file via gopkg.in/yaml.v3, with ${VAR} environment expansion and
// fsnotify-driven hot reload handled by Loader.
package config

import (
	"fmt"
	"time"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// EngineConfig holds the operational settings a host supplies at init,
// distinct from AgentDefinition which is per-agent and immutable per run.
type EngineConfig struct {
	ContextWindowTokens     int     `yaml:"context_window_tokens" json:"context_window_tokens"`
	CompressionTriggerRatio float64 `yaml:"compression_trigger_ratio" json:"compression_trigger_ratio"`
	HeadPreserveTurns       int     `yaml:"head_preserve_turns" json:"head_preserve_turns"`
	TailPreserveMessages    int     `yaml:"tail_preserve_messages" json:"tail_preserve_messages"`

	MemoryLongTermThreshold float64 `yaml:"memory_long_term_threshold" json:"memory_long_term_threshold"`
	MemoryRecallTopK        int     `yaml:"memory_recall_top_k" json:"memory_recall_top_k"`
	MemoryDedupThreshold    float64 `yaml:"memory_dedup_threshold" json:"memory_dedup_threshold"`

	PromptCacheEnabled bool `yaml:"prompt_cache_enabled" json:"prompt_cache_enabled"`

	Sandbox SandboxSpec `yaml:"sandbox_spec" json:"sandbox_spec"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
}

// MCPServerConfig declares one stdio-transport MCP server to expose as a
// namespaced toolset ("<name>.<tool>") via pkg/tool.Registry.RegisterToolset.
type MCPServerConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Filter  []string          `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// SandboxSpec configures the isolated environment acquired for sandboxed
// tool categories ({code, shell, filesystem-write, network}).
type SandboxSpec struct {
	Image        string        `yaml:"image" json:"image"`
	AllowNetwork bool          `yaml:"allow_network" json:"allow_network"`
	MemoryBytes  int64         `yaml:"memory_bytes" json:"memory_bytes"`
	NanoCPUs     int64         `yaml:"nano_cpus" json:"nano_cpus"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultEngineConfig matches the defaults named in the configuration
// table: 0.7 compression trigger, 2 head turns, 6 tail messages, 6.0
// long-term importance threshold, 0.9 dedup threshold.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ContextWindowTokens:     128_000,
		CompressionTriggerRatio: 0.7,
		HeadPreserveTurns:       2,
		TailPreserveMessages:    6,
		MemoryLongTermThreshold: 6.0,
		MemoryRecallTopK:        5,
		MemoryDedupThreshold:    0.9,
		PromptCacheEnabled:      true,
		Sandbox: SandboxSpec{
			Image:       "alpine:3.20",
			MemoryBytes: 256 * 1024 * 1024,
			NanoCPUs:    1_000_000_000,
			Timeout:     30 * time.Second,
		},
	}
}

// File is the on-disk shape of a YAML configuration document: engine
// settings plus the agents it declares.
type File struct {
	Engine EngineConfig                      `yaml:"engine" json:"engine"`
	Agents map[string]*types.AgentDefinition `yaml:"agents" json:"agents"`
}

// Validate applies the defaults table and rejects structurally invalid
// agent definitions (missing model, non-positive max_iterations).
func (f *File) Validate() error {
	defaults := DefaultEngineConfig()
	if f.Engine.CompressionTriggerRatio <= 0 {
		f.Engine.CompressionTriggerRatio = defaults.CompressionTriggerRatio
	}
	if f.Engine.HeadPreserveTurns <= 0 {
		f.Engine.HeadPreserveTurns = defaults.HeadPreserveTurns
	}
	if f.Engine.TailPreserveMessages <= 0 {
		f.Engine.TailPreserveMessages = defaults.TailPreserveMessages
	}
	if f.Engine.MemoryLongTermThreshold == 0 {
		f.Engine.MemoryLongTermThreshold = defaults.MemoryLongTermThreshold
	}
	if f.Engine.MemoryDedupThreshold == 0 {
		f.Engine.MemoryDedupThreshold = defaults.MemoryDedupThreshold
	}
	if f.Engine.ContextWindowTokens <= 0 {
		f.Engine.ContextWindowTokens = defaults.ContextWindowTokens
	}

	for name, def := range f.Agents {
		if def.Model == "" {
			return fmt.Errorf("config: agent %q missing model", name)
		}
		if def.MaxIterations <= 0 {
			return fmt.Errorf("config: agent %q must set max_iterations > 0", name)
		}
	}
	return nil
}
