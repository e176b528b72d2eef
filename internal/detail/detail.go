// Package detail defines the response-detail level that every backend
// projection accepts. Higher levels include every field of the lower
// ones.
package detail

import "strings"

// Level trades payload size for richness.
type Level int

// Levels, lightest first.
const (
	Minimal Level = iota
	Compact
	Standard
	Detailed
)

var names = [...]string{"minimal", "compact", "standard", "detailed"}

// Names lists the legal values in order, for schema enums.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names[:])
	return out
}

// String implements fmt.Stringer.
func (l Level) String() string {
	if l < Minimal || l > Detailed {
		return "unknown"
	}
	return names[l]
}

// Parse maps a case-insensitive name to a Level.
func Parse(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Level(i), true
		}
	}
	return Minimal, false
}

// AtLeast reports whether l includes the fields of min.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}
