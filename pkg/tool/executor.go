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
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kadirpekel/agentcore/pkg/types"
)

const defaultOutputCap = 10_000 // chars, truncated with a marker beyond this

// Sandbox is the isolated execution environment acquired for sandboxed
// categories. One handle is leased to at most one concurrent call.
type Sandbox interface {
	Acquire(ctx context.Context, spec SandboxSpec) (Handle, error)
	Exec(ctx context.Context, h Handle, command string, stdin string) (ExecResult, error)
	Release(ctx context.Context, h Handle) error
}

// SandboxSpec configures the environment a sandboxed call runs in.
type SandboxSpec struct {
	Image        string
	AllowNetwork bool
	MemoryBytes  int64
	NanoCPUs     int64
	Timeout      time.Duration
}

// Handle identifies a leased sandbox environment.
type Handle string

// ExecResult is the outcome of running one command inside a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor validates, dispatches, and caps the output of tool calls.
type Executor struct {
	registry  *Registry
	sandbox   Sandbox
	spec      SandboxSpec
	outputCap int
}

func NewExecutor(reg *Registry, sandbox Sandbox, spec SandboxSpec) *Executor {
	return &Executor{registry: reg, sandbox: sandbox, spec: spec, outputCap: defaultOutputCap}
}

// Execute runs exactly one ToolCall end to end: resolve, validate,
// dispatch, cap output, measure wall time. It never returns a Go error;
// every failure mode is captured into the returned ToolResult so the
// model can see and react to it rather than aborting the run.
func (e *Executor) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()

	t, err := e.registry.Resolve(call.Name)
	if err != nil {
		return types.ToolResult{ToolCallID: call.ID, Success: false, Error: "unknown_tool", Duration: time.Since(start)}
	}

	if err := validateArgs(t.Schema, call.Arguments); err != nil {
		return types.ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	var output any
	var execErr error
	if t.Category.Sandboxed() {
		output, execErr = e.executeSandboxed(ctx, t, call.Arguments)
	} else {
		output, execErr = e.executeInProcess(ctx, t, call.Arguments)
	}

	result := types.ToolResult{ToolCallID: call.ID, Duration: time.Since(start)}
	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			result.Error = "timeout"
		} else {
			result.Error = execErr.Error()
		}
		result.Success = false
		return result
	}

	result.Success = true
	result.Output, result.Truncated = capOutput(output, e.outputCap)
	return result
}

func (e *Executor) executeInProcess(ctx context.Context, t Tool, args map[string]any) (any, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type res struct {
		out any
		err error
	}
	done := make(chan res, 1)
	go func() {
		out, err := t.Handler(ctx, args)
		done <- res{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) executeSandboxed(ctx context.Context, t Tool, args map[string]any) (any, error) {
	if e.sandbox == nil {
		return nil, fmt.Errorf("tool: category %q requires a sandbox but none is configured", t.Category)
	}

	spec := e.spec
	if t.Category == CategoryNetwork {
		spec.AllowNetwork = true
	}
	if t.Timeout > 0 {
		spec.Timeout = t.Timeout
	}

	handle, err := e.sandbox.Acquire(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("tool: failed to acquire sandbox: %w", err)
	}
	defer e.sandbox.Release(context.WithoutCancel(ctx), handle)

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	// The handler decides how to translate args into the command the
	// sandboxed environment runs; it reaches the lease acquired above
	// through SandboxFromContext rather than a closure, since the handle
	// is only known at call time, not at tool-construction time.
	ctx = withSandboxLease(ctx, e.sandbox, handle)
	out, err := t.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type sandboxLeaseKey struct{}

type sandboxLease struct {
	sandbox Sandbox
	handle  Handle
}

func withSandboxLease(ctx context.Context, s Sandbox, h Handle) context.Context {
	return context.WithValue(ctx, sandboxLeaseKey{}, sandboxLease{sandbox: s, handle: h})
}

// SandboxFromContext returns the sandbox and handle leased to the current
// call, for a sandboxed-category Handler to execute commands against.
func SandboxFromContext(ctx context.Context) (Sandbox, Handle, bool) {
	l, ok := ctx.Value(sandboxLeaseKey{}).(sandboxLease)
	if !ok {
		return nil, "", false
	}
	return l.sandbox, l.handle, true
}

func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	// jsonschema validates decoded JSON values (map[string]interface{}), so
	// round-trip args through JSON to normalize numeric types the same way
	// a wire-decoded call would have arrived.
	argsRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(argsRaw, &decoded); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("validation failed: %v", err)
	}
	return nil
}

func capOutput(output any, limit int) (any, bool) {
	s, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(s) <= limit {
		return s, false
	}
	return s[:limit] + "...[truncated]", true
}
