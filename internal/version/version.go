// Package version exposes the agentflow release version, embedded at
// build time from the VERSION file alongside this package.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the current release version with surrounding whitespace
// trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}
