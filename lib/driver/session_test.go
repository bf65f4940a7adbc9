// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import "testing"

func TestDetectSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "stream json",
			line:   `{"type":"system","subtype":"init","session_id":"abc123","model":"claude-sonnet-4-5"}`,
			want:   "abc123",
			wantOK: true,
		},
		{
			name:   "camel case field",
			line:   `{"sessionId":"s-1"}`,
			want:   "s-1",
			wantOK: true,
		},
		{
			name:   "terminal banner",
			line:   "\x1b[2mSession ID: 5b7d0d1e-3c2a-4d5e-9f00-1234567890ab\x1b[0m",
			want:   "5b7d0d1e-3c2a-4d5e-9f00-1234567890ab",
			wantOK: true,
		},
		{
			name:   "resume hint",
			line:   "To continue: claude --resume, conversation_id=5B7D0D1E-3C2A-4D5E-9F00-1234567890AB",
			want:   "5b7d0d1e-3c2a-4d5e-9f00-1234567890ab",
			wantOK: true,
		},
		{name: "json without id", line: `{"type":"assistant"}`},
		{name: "unlabelled uuid", line: "created 5b7d0d1e-3c2a-4d5e-9f00-1234567890ab"},
		{name: "empty", line: "   "},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DetectSessionID(test.line)
			if ok != test.wantOK || got != test.want {
				t.Errorf("DetectSessionID(%q) = (%q, %v), want (%q, %v)", test.line, got, ok, test.want, test.wantOK)
			}
		})
	}
}
