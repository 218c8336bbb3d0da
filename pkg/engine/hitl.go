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

package engine

import (
	"path/filepath"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// requiresApproval reports whether a tool call must suspend for human
// approval: its name matches a require pattern and no auto-approve pattern
// overrides it. Patterns are plain shell globs (path/filepath.Match); the
// only third-party glob matcher seen anywhere in the retrieved corpus
// (gobwas/glob) appears solely in go.mod manifests with no accompanying
// usage, so there is nothing to imitate beyond what filepath.Match already
// covers for flat tool-name patterns like "delete_*".
func requiresApproval(policy types.HITLPolicy, toolName string) bool {
	if !matchesAny(policy.RequirePatterns, toolName) {
		return false
	}
	return !matchesAny(policy.AutoApprovePattern, toolName)
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
