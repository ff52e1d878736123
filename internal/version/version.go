package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Build metadata injected with -ldflags "-X". Values left at their defaults
// are filled from the VCS stamp Go embeds into module builds.
var (
	Version   = "0.1.0"
	Commit    = ""
	BuildTime = ""
)

type metadata struct {
	version   string
	commit    string
	buildTime string
}

var current = sync.OnceValue(func() metadata {
	info, _ := debug.ReadBuildInfo()

	return resolve(Version, Commit, BuildTime, info)
})

// resolve prefers injected values and falls back to the vcs.* build settings.
func resolve(version, commit, buildTime string, info *debug.BuildInfo) metadata {
	m := metadata{version: version, commit: commit, buildTime: buildTime}

	var (
		revision, vcsTime string
		modified          bool
	)

	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = shortRevision(setting.Value)
			case "vcs.time":
				vcsTime = setting.Value
			case "vcs.modified":
				modified = setting.Value == "true"
			}
		}
	}

	if m.commit == "" && revision != "" {
		m.commit = revision
		if modified {
			m.commit += "-dirty"
		}
	}

	if m.buildTime == "" {
		m.buildTime = vcsTime
	}

	if m.commit == "" {
		m.commit = "none"
	}

	if m.buildTime == "" {
		m.buildTime = "unknown"
	}

	return m
}

func shortRevision(revision string) string {
	const length = 12

	if len(revision) > length {
		return revision[:length]
	}

	return revision
}

// Short returns only the semantic version string.
func Short() string {
	return current().version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	m := current()

	return fmt.Sprintf("chart-publisher %s (commit %s, built at %s)", m.version, m.commit, m.buildTime)
}

// Fields returns the build metadata as logger key-value pairs.
func Fields() []any {
	m := current()

	return []any{"version", m.version, "commit", m.commit, "built_at", m.buildTime}
}
