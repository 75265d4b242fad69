package mode

import (
	"fmt"
	"strings"
)

// Mode is the execution style of a single test invocation.
type Mode string

const (
	// Unit runs the routine test suite under a version-specific profile.
	Unit Mode = "unit"
	// Integration installs the project as a package first, then exercises
	// it under one fixed profile.
	Integration Mode = "integration"
)

// IntegrationTag is the fixed profile used by every integration invocation,
// regardless of interpreter version.
const IntegrationTag = "integration"

// RunConfig is the per-invocation configuration derived from the marker
// variable and the cell's interpreter version. Read-only after creation.
type RunConfig struct {
	Mode Mode
	Tag  string
}

// Select decides the invocation mode. Presence of the marker variable (any
// value, empty included) selects integration mode with the fixed profile;
// otherwise unit mode keyed by the normalized version tag. Pure function.
func Select(markerPresent bool, version string) RunConfig {
	if markerPresent {
		return RunConfig{Mode: Integration, Tag: IntegrationTag}
	}
	return RunConfig{Mode: Unit, Tag: Tag(version)}
}

// Tag normalizes an interpreter version into a profile tag by stripping
// every non-alphanumeric rune: "3.8" → "38", "3.10" → "310".
func Tag(version string) string {
	var b strings.Builder
	for _, r := range version {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse converts a comma-separated mode list ("unit,integration") into
// modes, preserving order.
func Parse(s string) ([]Mode, error) {
	var modes []Mode
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch Mode(part) {
		case Unit, Integration:
			modes = append(modes, Mode(part))
		default:
			return nil, fmt.Errorf("unknown mode %q (valid: unit, integration)", part)
		}
	}
	if len(modes) == 0 {
		return nil, fmt.Errorf("no modes given")
	}
	return modes, nil
}
