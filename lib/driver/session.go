// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tidwall/gjson"
)

// sessionFields are the JSON fields agents use for their conversation
// identifier in structured output.
var sessionFields = []string{"session_id", "sessionId", "conversation_id"}

// sessionPattern matches a labelled UUID in plain terminal output, as
// printed by agents that announce their session on startup or exit
// ("Session ID: 3f2c...", "conversation_id=3f2c...").
var sessionPattern = regexp.MustCompile(
	`(?i)(?:session|conversation)[ _-]?id["']?\s*[:=]\s*["']?` +
		`([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)

// DetectSessionID looks for a session identifier in one line of agent
// output. Terminal escape sequences are ignored.
func DetectSessionID(line string) (string, bool) {
	line = strings.TrimSpace(ansi.Strip(line))
	if line == "" {
		return "", false
	}
	if gjson.Valid(line) {
		for _, field := range sessionFields {
			value := gjson.Get(line, field)
			if value.Type == gjson.String && value.Str != "" {
				return value.Str, true
			}
		}
	}
	match := sessionPattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	return strings.ToLower(match[1]), true
}
