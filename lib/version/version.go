// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the staffd binary.
//
// Release builds inject values with -ldflags:
//
//	go build -ldflags "-X github.com/KoreanThinker/openstaff-sub000/lib/version.Version=0.2.0"
//
// Development builds fall back to the VCS stamp the Go toolchain
// embeds in the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Build describes one binary.
type Build struct {
	Version   string
	Commit    string
	Dirty     bool
	BuildTime string
	Go        string
	Platform  string
}

// Current returns the build of the running binary.
func Current() Build {
	build := Build{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildTime,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		build.fill(info.Settings)
	}
	return build
}

// fill takes commit, dirty flag, and time from VCS settings for the
// fields -ldflags left empty.
func (b *Build) fill(settings []debug.BuildSetting) {
	stampCommit := b.Commit == ""
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if stampCommit {
				b.Commit = setting.Value
				if len(b.Commit) > 12 {
					b.Commit = b.Commit[:12]
				}
			}
		case "vcs.modified":
			if stampCommit {
				b.Dirty = setting.Value == "true"
			}
		case "vcs.time":
			if b.BuildTime == "" {
				b.BuildTime = setting.Value
			}
		}
	}
}

// String is the one-line form printed by "staffd version".
func (b Build) String() string {
	commit := b.Commit
	if commit == "" {
		commit = "unknown"
	}
	if b.Dirty {
		commit += "-dirty"
	}
	buildTime := b.BuildTime
	if buildTime == "" {
		buildTime = "unknown"
	}
	return fmt.Sprintf("%s (%s, %s)", b.Version, commit, buildTime)
}

// Full adds the toolchain and platform.
func (b Build) Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s", b, b.Go, b.Platform)
}
