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

package context

import (
	"regexp"
	"strings"

	"github.com/kadirpekel/agentcore/pkg/types"
)

// ImportanceBucket classifies a Message's relevance for compression
// decisions: the higher the bucket, the more resistant to pruning.
type ImportanceBucket string

const (
	BucketCritical ImportanceBucket = "critical"
	BucketHigh     ImportanceBucket = "high"
	BucketMedium   ImportanceBucket = "medium"
	BucketLow      ImportanceBucket = "low"
	BucketTrivial  ImportanceBucket = "trivial"
)

var keywordPattern = regexp.MustCompile(`(?i)\b(important|remember|always|never|must|critical|note)\b`)
var codeMarkerPattern = regexp.MustCompile("```")
var inlineCodePattern = regexp.MustCompile("`[^`\n]+`")

// ScoreMessage computes an additive importance score for one message at
// position idx within a total-length total, per the scoring rule: base
// signals for head/tail position, role, tool-call presence, flagged
// keywords, and code markers.
func ScoreMessage(m types.Message, idx, total int) int {
	score := 0

	if total > 0 {
		headCutoff := total / 4
		if headCutoff < 1 {
			headCutoff = 1
		}
		tailCutoff := total - headCutoff
		if idx < headCutoff {
			score += 30
		} else if idx >= tailCutoff {
			score += 25
		}
	}

	if m.Role == types.RoleUser {
		score += 10
	}
	if len(m.ToolCalls) > 0 {
		score += 20
	}
	if keywordPattern.MatchString(m.Content) {
		score += 15
	}
	if codeMarkerPattern.MatchString(m.Content) {
		score += 12
	} else if inlineCodePattern.MatchString(m.Content) {
		score += 8
	}

	return score
}

// Bucket maps a raw score to its named importance bucket.
func Bucket(score int) ImportanceBucket {
	switch {
	case score >= 50:
		return BucketCritical
	case score >= 35:
		return BucketHigh
	case score >= 20:
		return BucketMedium
	case score >= 10:
		return BucketLow
	default:
		return BucketTrivial
	}
}

// truncateEllipsis shortens text to fit within maxChars, preserving the
// first and last quarters and replacing the middle with an ellipsis
// marker, used when a single user message alone exceeds its budget. A
// non-positive maxChars leaves no room at all and yields "".
func truncateEllipsis(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if len(text) <= maxChars {
		return text
	}
	quarter := maxChars / 4
	if quarter < 1 {
		return text[:maxChars]
	}
	head := text[:quarter]
	tail := text[len(text)-quarter:]
	return strings.TrimSpace(head) + " ... " + strings.TrimSpace(tail)
}
