// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFillFromVCS(t *testing.T) {
	t.Parallel()

	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-03-01T09:00:00Z"},
	}

	var stamped Build
	stamped.fill(settings)
	if stamped.Commit != "0123456789ab" || !stamped.Dirty || stamped.BuildTime != "2026-03-01T09:00:00Z" {
		t.Errorf("fill() = %+v", stamped)
	}

	injected := Build{Commit: "release", BuildTime: "yesterday"}
	injected.fill(settings)
	if injected.Commit != "release" || injected.Dirty || injected.BuildTime != "yesterday" {
		t.Errorf("fill() overrode injected values: %+v", injected)
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		build Build
		want  string
	}{
		{Build{Version: "1.0.0"}, "1.0.0 (unknown, unknown)"},
		{Build{Version: "1.0.0", Commit: "abc", Dirty: true, BuildTime: "now"}, "1.0.0 (abc-dirty, now)"},
	}
	for _, test := range tests {
		if got := test.build.String(); got != test.want {
			t.Errorf("String() = %q, want %q", got, test.want)
		}
	}

	full := Build{Version: "1.0.0", Go: "go1.25.6", Platform: "linux/amd64"}.Full()
	if !strings.Contains(full, "Go: go1.25.6") || !strings.Contains(full, "Platform: linux/amd64") {
		t.Errorf("Full() = %q", full)
	}
}
