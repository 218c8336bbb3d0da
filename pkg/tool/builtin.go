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
	"fmt"
)

// RegisterBuiltins adds one reference tool for each of the four sandboxed
// categories, so a host has a usable starting set without standing up its
// own toolset. Hosts remain free to register additional tools; Register
// rejects a name already taken, so replacing a builtin means removing it
// first.
func RegisterBuiltins(reg *Registry) {
	reg.Register("shell_exec", Tool{
		Name:        "shell_exec",
		Description: "Run a shell command inside the sandboxed working directory.",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"command": map[string]any{"type": "string"}},
			"required":             []any{"command"},
			"additionalProperties": false,
		},
		Category: CategoryShell,
		Timeout:  30_000_000_000, // 30s, expressed in ns to avoid importing time here twice
		Handler:  shellExecHandler,
	})

	reg.Register("write_file", Tool{
		Name:        "write_file",
		Description: "Write text content to a file path inside the sandboxed working directory.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required":             []any{"path", "content"},
			"additionalProperties": false,
		},
		Category: CategoryFilesystemWrite,
		Handler:  writeFileHandler,
	})

	reg.Register("run_python", Tool{
		Name:        "run_python",
		Description: "Execute a Python snippet inside the sandbox and return its stdout.",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"code": map[string]any{"type": "string"}},
			"required":             []any{"code"},
			"additionalProperties": false,
		},
		Category: CategoryCode,
		Handler:  runPythonHandler,
	})

	reg.Register("http_fetch", Tool{
		Name:        "http_fetch",
		Description: "Fetch a URL from inside the network-enabled sandbox and return its body.",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"url": map[string]any{"type": "string"}},
			"required":             []any{"url"},
			"additionalProperties": false,
		},
		Category: CategoryNetwork,
		Handler:  httpFetchHandler,
	})
}

func shellExecHandler(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell_exec: command is required")
	}
	sandbox, handle, ok := SandboxFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("shell_exec: no sandbox lease in context")
	}
	res, err := sandbox.Exec(ctx, handle, command, "")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("command exited %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func writeFileHandler(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return nil, fmt.Errorf("write_file: path is required")
	}
	sandbox, handle, ok := SandboxFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("write_file: no sandbox lease in context")
	}
	command := fmt.Sprintf("cat > %q", path)
	res, err := sandbox.Exec(ctx, handle, command, content)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("write_file exited %d: %s", res.ExitCode, res.Stderr)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func runPythonHandler(ctx context.Context, args map[string]any) (any, error) {
	code, _ := args["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("run_python: code is required")
	}
	sandbox, handle, ok := SandboxFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("run_python: no sandbox lease in context")
	}
	res, err := sandbox.Exec(ctx, handle, "python3 -", code)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("python exited %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

func httpFetchHandler(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_fetch: url is required")
	}
	sandbox, handle, ok := SandboxFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("http_fetch: no sandbox lease in context")
	}
	command := fmt.Sprintf("wget -qO- %q", url)
	res, err := sandbox.Exec(ctx, handle, command, "")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("fetch exited %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}
