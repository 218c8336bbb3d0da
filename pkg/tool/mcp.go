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
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPConfig configures a stdio-transport MCP toolset: a subprocess speaking
// the Model Context Protocol, whose tools are resolved lazily under the
// "<name>.<tool>" namespace by Registry.Resolve.
type MCPConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Filter  []string // empty means all tools exposed
}

// MCPToolset is a Toolset backed by a single MCP server process.
type MCPToolset struct {
	cfg MCPConfig

	mu        sync.Mutex
	client    *mcpclient.Client
	tools     []Tool
	connected bool
	filterSet map[string]bool
}

func NewMCPToolset(cfg MCPConfig) (*MCPToolset, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("tool: mcp toolset %q requires a command", cfg.Name)
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, n := range cfg.Filter {
			filterSet[n] = true
		}
	}
	return &MCPToolset{cfg: cfg, filterSet: filterSet}, nil
}

func (t *MCPToolset) Name() string { return t.cfg.Name }

// Tools connects lazily on first call and returns the resolved Tool set,
// each one's Handler dispatching the call back over the MCP connection.
func (t *MCPToolset) Tools() ([]Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(context.Background()); err != nil {
			return nil, fmt.Errorf("tool: failed to connect to mcp server %q: %w", t.cfg.Name, err)
		}
	}
	return t.tools, nil
}

func (t *MCPToolset) connect(ctx context.Context) error {
	c, err := mcpclient.NewStdioMCPClient(t.cfg.Command, envSlice(t.cfg.Env), t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create mcp client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("failed to initialize mcp session: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to list mcp tools: %w", err)
	}

	var tools []Tool
	for _, mt := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mt.Name] {
			continue
		}
		name := mt.Name
		tools = append(tools, Tool{
			Name:        name,
			Description: mt.Description,
			Schema:      convertMCPSchema(mt.InputSchema),
			Category:    CategoryNetwork,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return t.call(ctx, name, args)
			},
		})
	}

	t.client = c
	t.tools = tools
	t.connected = true
	return nil
}

func (t *MCPToolset) call(ctx context.Context, name string, args map[string]any) (any, error) {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("mcp client %q not connected", t.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %q failed: %w", name, err)
	}

	if resp.IsError {
		for _, content := range resp.Content {
			if tc, ok := content.(mcp.TextContent); ok {
				return nil, fmt.Errorf("%s", tc.Text)
			}
		}
		return nil, fmt.Errorf("mcp tool %q returned an unspecified error", name)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
		return "", nil
	case 1:
		return texts[0], nil
	default:
		return texts, nil
	}
}

func (t *MCPToolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client, t.connected, t.tools = nil, false, nil
	return err
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func convertMCPSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var _ Toolset = (*MCPToolset)(nil)
