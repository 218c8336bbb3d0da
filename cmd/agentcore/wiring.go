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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kadirpekel/agentcore/pkg/checkpoint"
	agentctx "github.com/kadirpekel/agentcore/pkg/context"
	"github.com/kadirpekel/agentcore/pkg/config"
	"github.com/kadirpekel/agentcore/pkg/engine"
	"github.com/kadirpekel/agentcore/pkg/llmgateway"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/tool"
	"github.com/kadirpekel/agentcore/pkg/types"
)

// session bundles the loaded configuration with the engine built from it,
// so callers only need to carry one value between command handlers.
type session struct {
	cfg    *config.File
	engine *engine.Engine
}

func loadSession(ctx context.Context) (*session, error) {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	checkpointer, err := buildCheckpointer()
	if err != nil {
		return nil, err
	}

	memSvc, err := buildMemoryService(cfg.Engine)
	if err != nil {
		return nil, err
	}

	gateway, err := buildGateway(ctx)
	if err != nil {
		return nil, err
	}

	counter, err := agentctx.NewTokenCounter("gpt-4")
	if err != nil {
		return nil, fmt.Errorf("agentcore: failed to build token counter: %w", err)
	}
	ctxMgr := agentctx.NewManager(counter, cfg.Engine.ContextWindowTokens, cfg.Engine.CompressionTriggerRatio,
		cfg.Engine.HeadPreserveTurns, cfg.Engine.TailPreserveMessages)

	registry := tool.NewRegistry()
	tool.RegisterBuiltins(registry)
	for _, mcpCfg := range cfg.Engine.MCPServers {
		toolset, err := tool.NewMCPToolset(tool.MCPConfig{
			Name:    mcpCfg.Name,
			Command: mcpCfg.Command,
			Args:    mcpCfg.Args,
			Env:     mcpCfg.Env,
			Filter:  mcpCfg.Filter,
		})
		if err != nil {
			return nil, fmt.Errorf("agentcore: failed to configure mcp server %q: %w", mcpCfg.Name, err)
		}
		registry.RegisterToolset(toolset)
	}

	var sandbox tool.Sandbox
	if docker, err := tool.NewDockerSandbox(); err == nil {
		sandbox = docker
	} else {
		// Sandboxed categories (code, shell, filesystem_write, network) are
		// unavailable without a daemon; pure tools still work. sandbox is
		// left as a nil Sandbox interface, not a typed nil *DockerSandbox.
		slog.Warn("agentcore: docker sandbox unavailable, sandboxed tool categories disabled", "error", err)
	}
	executor := tool.NewExecutor(registry, sandbox, tool.SandboxSpec{
		Image:        cfg.Engine.Sandbox.Image,
		AllowNetwork: cfg.Engine.Sandbox.AllowNetwork,
		MemoryBytes:  cfg.Engine.Sandbox.MemoryBytes,
		NanoCPUs:     cfg.Engine.Sandbox.NanoCPUs,
		Timeout:      cfg.Engine.Sandbox.Timeout,
	})

	eng := engine.New(engine.Deps{
		Checkpointer:       checkpointer,
		Memory:             memSvc,
		Gateway:            gateway,
		Context:            ctxMgr,
		Tools:              registry,
		Executor:           executor,
		PromptCacheEnabled: cfg.Engine.PromptCacheEnabled,
		MemoryRecallTopK:   cfg.Engine.MemoryRecallTopK,
	})

	return &session{cfg: cfg, engine: eng}, nil
}

func (s *session) agent(name string) (*types.AgentDefinition, error) {
	if name == "" {
		for only := range s.cfg.Agents {
			if len(s.cfg.Agents) == 1 {
				return s.cfg.Agents[only], nil
			}
			break
		}
		return nil, fmt.Errorf("agentcore: --agent is required when the config declares more than one agent")
	}
	agent, ok := s.cfg.Agents[name]
	if !ok {
		return nil, fmt.Errorf("agentcore: agent %q not found in %s", name, configPath)
	}
	return agent, nil
}

// buildCheckpointer prefers a SQLite-backed checkpointer rooted next to the
// config file so runs survive process restarts; an in-memory checkpointer
// is used only when no writable directory is available.
func buildCheckpointer() (checkpoint.Checkpointer, error) {
	dbPath := filepath.Join(filepath.Dir(configPath), "agentcore-checkpoints.db")
	cp, err := checkpoint.NewSQLiteCheckpointer(dbPath)
	if err != nil {
		slog.Warn("agentcore: falling back to in-memory checkpointer", "path", dbPath, "error", err)
		return checkpoint.NewMapCheckpointer(), nil
	}
	return cp, nil
}

// buildMemoryService prefers the real OpenAI embedder when an API key is
// present, matching the gateway's own provider selection, and otherwise
// falls back to the deterministic hash embedder so the CLI stays usable
// offline.
func buildMemoryService(cfg config.EngineConfig) (*memory.Service, error) {
	store, err := memory.NewChromemStore(filepath.Join(filepath.Dir(configPath), "agentcore-memory.db"))
	if err != nil {
		return nil, fmt.Errorf("agentcore: failed to open memory store: %w", err)
	}

	var embedder memory.Embedder
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		embedder = memory.NewOpenAIEmbedder(key, "text-embedding-3-small", 1536)
	} else {
		embedder = memory.NewHashEmbedder(256)
	}

	return memory.NewService(embedder, store, cfg.MemoryLongTermThreshold, cfg.MemoryDedupThreshold), nil
}

// buildGateway registers every provider whose API key is present in the
// environment, so the engine can route a run to whichever provider its
// agent's model prefix names without every provider being mandatory.
func buildGateway(ctx context.Context) (*llmgateway.Gateway, error) {
	gw := llmgateway.NewGateway(llmgateway.DefaultRetryPolicy())

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if err := gw.Register("anthropic", llmgateway.NewAnthropicProvider(key, "claude-sonnet-4-20250514")); err != nil {
			return nil, err
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if err := gw.Register("openai", llmgateway.NewOpenAIProvider(key, "gpt-4o")); err != nil {
			return nil, err
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		provider, err := llmgateway.NewGeminiProvider(ctx, key, "gemini-2.0-flash")
		if err != nil {
			return nil, fmt.Errorf("agentcore: failed to initialize gemini provider: %w", err)
		}
		if err := gw.Register("gemini", provider); err != nil {
			return nil, err
		}
	}

	return gw, nil
}
