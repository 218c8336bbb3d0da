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

package types

import "fmt"

// Kind is a semantic error classification, not a Go type name. It is what
// engine events and logs key off to decide retry/terminate policy.
type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindUnknownTool    Kind = "unknown_tool"
	KindToolFailed     Kind = "tool_failed"
	KindToolTimeout    Kind = "tool_timeout"
	KindLLMTransient   Kind = "llm_transient"
	KindLLMFailed      Kind = "llm_failed"
	KindCheckpointFail Kind = "checkpoint_failed"
	KindMemoryFailed   Kind = "memory_failed"
	KindLimitExceeded  Kind = "limit_exceeded"
	KindRejectedByUser Kind = "rejected_by_user"
	KindCancelled      Kind = "cancelled"
)

// EngineError carries a semantic Kind alongside the wrapped cause so
// callers can branch on policy without string-matching error text.
type EngineError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewEngineError builds an EngineError, wrapping cause (may be nil).
func NewEngineError(kind Kind, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

// IsFatal reports whether an error of this kind terminates the run rather
// than being absorbed and surfaced to the model or logged and skipped.
func (k Kind) IsFatal() bool {
	switch k {
	case KindInvalidInput, KindLLMFailed, KindLimitExceeded, KindCancelled:
		return true
	default:
		return false
	}
}
