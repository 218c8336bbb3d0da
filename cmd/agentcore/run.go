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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kadirpekel/agentcore/pkg/engine"
	"github.com/kadirpekel/agentcore/pkg/types"
)

func buildRunCmd() *cobra.Command {
	var (
		agentName string
		sessionID string
		userID    string
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Start a new run against an agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if message == "" {
				var err error
				message, err = readStdinLine("> ")
				if err != nil {
					return err
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			sess, err := loadSession(cmd.Context())
			if err != nil {
				return err
			}
			agent, err := sess.agent(agentName)
			if err != nil {
				return err
			}

			events, err := sess.engine.Run(cmd.Context(), agent, sessionID, userID, "", message, "")
			if err != nil {
				return err
			}
			return drainAndHandle(cmd.Context(), sess, agent, events)
		},
	}

	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent to run (required if the config declares more than one)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to record checkpoints under (random if empty); earlier history of that session is not loaded")
	cmd.Flags().StringVar(&userID, "user", "", "user id memories and checkpoints are scoped to")
	return cmd
}

// drainAndHandle prints every Event as a line of JSON to stdout, and on an
// interrupt event prompts interactively for a HITL decision, chaining into
// Resume until the run reaches a terminal non-interrupt event.
func drainAndHandle(ctx context.Context, sess *session, agent *types.AgentDefinition, events <-chan engine.Event) error {
	var lastInterrupt *engine.Event
	for ev := range events {
		printEvent(ev)
		if ev.Type == engine.EventInterrupt {
			e := ev
			lastInterrupt = &e
		}
	}

	if lastInterrupt == nil {
		return nil
	}

	decision, err := promptDecision(*lastInterrupt)
	if err != nil {
		return err
	}
	resumed, err := sess.engine.Resume(ctx, lastInterrupt.CheckpointID, decision, agent)
	if err != nil {
		return err
	}
	return drainAndHandle(ctx, sess, agent, resumed)
}

func printEvent(ev engine.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore: failed to marshal event:", err)
		return
	}
	fmt.Println(string(raw))
}

func promptDecision(interrupt engine.Event) (types.ResumeDecision, error) {
	fmt.Fprintf(os.Stderr, "\napproval required: %s(%v)\n", interrupt.Pending.Name, interrupt.Pending.Arguments)
	fmt.Fprint(os.Stderr, "[a]pprove, [m]odify, [r]eject? ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return types.ResumeDecision{Kind: types.ResumeReject}, scanner.Err()
	}

	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "m", "modify":
		line, err := readStdinLine("new arguments (JSON): ")
		if err != nil {
			return types.ResumeDecision{}, err
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(line), &args); err != nil {
			return types.ResumeDecision{}, fmt.Errorf("agentcore: invalid JSON arguments: %w", err)
		}
		return types.ResumeDecision{Kind: types.ResumeModify, NewArgs: args}, nil
	case "r", "reject":
		return types.ResumeDecision{Kind: types.ResumeReject}, nil
	default:
		return types.ResumeDecision{Kind: types.ResumeApprove}, nil
	}
}

func readStdinLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("agentcore: no input provided")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
