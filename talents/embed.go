// Package defaulttalents provides embedded copies of the shipped talent
// files. They are the prompt guidance used when no talents directory is
// configured, and what the init subcommand writes out for editing.
//
// The runtime talent loader lives in internal/talents.
package defaulttalents

import "embed"

// FS contains the shipped talent markdown files.
//
//go:embed *.md
var FS embed.FS
