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
)

func buildCheckpointsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect persisted checkpoints",
	}
	root.AddCommand(buildCheckpointsListCmd(), buildCheckpointsShowCmd(), buildCheckpointsDiffCmd())
	return root
}

func buildCheckpointsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List checkpoints for a session, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context())
			if err != nil {
				return err
			}
			metas, err := sess.engine.ListCheckpoints(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(metas)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum checkpoints to return")
	return cmd
}

func buildCheckpointsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <checkpoint-id>",
		Short: "Print the full AgentState for a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context())
			if err != nil {
				return err
			}
			state, err := sess.engine.GetCheckpointState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	}
}

func buildCheckpointsDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <checkpoint-a> <checkpoint-b>",
		Short: "Diff two checkpoints of the same session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(cmd.Context())
			if err != nil {
				return err
			}
			diff, err := sess.engine.DiffCheckpoints(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(diff)
		},
	}
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
