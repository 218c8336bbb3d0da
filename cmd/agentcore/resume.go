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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kadirpekel/agentcore/pkg/types"
)

func buildResumeCmd() *cobra.Command {
	var (
		agentName  string
		decision   string
		newArgsRaw string
	)

	cmd := &cobra.Command{
		Use:   "resume <checkpoint-id>",
		Short: "Resume a suspended run from an interrupt checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointID := args[0]

			sess, err := loadSession(cmd.Context())
			if err != nil {
				return err
			}
			agent, err := sess.agent(agentName)
			if err != nil {
				return err
			}

			var kind types.ResumeKind
			switch decision {
			case "approve":
				kind = types.ResumeApprove
			case "modify":
				kind = types.ResumeModify
			case "reject":
				kind = types.ResumeReject
			default:
				return fmt.Errorf("agentcore: --decision must be one of approve, modify, reject")
			}

			var newArgs map[string]any
			if kind == types.ResumeModify {
				if newArgsRaw == "" {
					return fmt.Errorf("agentcore: --args is required with --decision modify")
				}
				if err := json.Unmarshal([]byte(newArgsRaw), &newArgs); err != nil {
					return fmt.Errorf("agentcore: invalid --args JSON: %w", err)
				}
			}

			events, err := sess.engine.Resume(cmd.Context(), checkpointID, types.ResumeDecision{Kind: kind, NewArgs: newArgs}, agent)
			if err != nil {
				return err
			}
			return drainAndHandle(cmd.Context(), sess, agent, events)
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent the checkpoint belongs to")
	cmd.Flags().StringVar(&decision, "decision", "approve", "approve, modify, or reject")
	cmd.Flags().StringVar(&newArgsRaw, "args", "", "replacement tool arguments as a JSON object (with --decision modify)")
	return cmd
}
