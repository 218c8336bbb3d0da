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

// Command agentcore is the CLI front end for the agent execution engine.
//
// Usage:
//
//	agentcore run --config config.yaml --agent assistant "What's 2+2?"
//	agentcore resume --config config.yaml <checkpoint-id> --decision approve
//	agentcore checkpoints list --config config.yaml <session-id>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kadirpekel/agentcore/pkg/logger"
)

var (
	configPath string
	logLevel   string
)

func main() {
	var shutdownTracing func(context.Context) error

	root := &cobra.Command{
		Use:   "agentcore",
		Short: "Run and inspect agent execution engine sessions",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(logger.ParseLevel(logLevel), os.Stderr)
			shutdownTracing = initTracing()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&traceEnabled, "trace", false, "emit engine.<phase> OpenTelemetry spans to stderr")

	root.AddCommand(buildRunCmd(), buildResumeCmd(), buildCheckpointsCmd())

	err := root.Execute()
	if shutdownTracing != nil {
		if sErr := shutdownTracing(context.Background()); sErr != nil {
			slog.Warn("agentcore: failed to flush trace exporter", "error", sErr)
		}
	}
	if err != nil {
		slog.Error("agentcore: command failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
