// Package talents loads the behavioral guidance documents that make up
// most of the system prompt.
package talents

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	defaulttalents "github.com/nugget/marquee-media-agent/talents"
)

// Separator joins talents in the assembled prompt.
const Separator = "\n\n---\n\n"

// Loader handles talent file loading.
type Loader struct {
	fsys fs.FS
}

// NewLoader creates a loader for dir. An empty dir uses the embedded
// default talents.
func NewLoader(dir string) *Loader {
	if dir == "" {
		return &Loader{fsys: defaulttalents.FS}
	}
	return &Loader{fsys: os.DirFS(dir)}
}

// NewFSLoader creates a loader over fsys.
func NewFSLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// Talent represents a parsed talent file with optional tag metadata.
type Talent struct {
	Name    string   // Filename without .md extension
	Tags    []string // Tags from YAML frontmatter (nil = untagged)
	Content string   // Markdown content (frontmatter stripped)
}

// List returns the names of available talent files in sorted order.
func (l *Loader) List() ([]string, error) {
	files, err := l.files()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(f, ".md"))
	}
	return names, nil
}

// LoadAll reads all talent files and parses their frontmatter. A
// missing directory yields no talents.
func (l *Loader) LoadAll() ([]Talent, error) {
	files, err := l.files()
	if err != nil {
		return nil, err
	}

	var talents []Talent
	for _, f := range files {
		data, err := fs.ReadFile(l.fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read talent %s: %w", f, err)
		}
		tags, content := parseFrontmatter(string(data))
		talents = append(talents, Talent{
			Name:    strings.TrimSuffix(f, ".md"),
			Tags:    tags,
			Content: strings.TrimSpace(content),
		})
	}
	return talents, nil
}

func (l *Loader) files() ([]string, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // No talents dir is fine
		}
		return nil, fmt.Errorf("read talents dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == ".md" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// FilterByTags returns the combined content of talents matching the
// active service tags. Untagged talents are always included. If
// activeTags is nil, all talents are included.
func FilterByTags(talents []Talent, activeTags map[string]bool) string {
	var parts []string
	for _, t := range talents {
		if shouldIncludeTalent(t, activeTags) && t.Content != "" {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, Separator)
}

// shouldIncludeTalent reports whether any of the talent's tags is
// active. Untagged talents are always included.
func shouldIncludeTalent(t Talent, activeTags map[string]bool) bool {
	if len(t.Tags) == 0 || activeTags == nil {
		return true
	}
	for _, tag := range t.Tags {
		if activeTags[tag] {
			return true
		}
	}
	return false
}

// parseFrontmatter extracts tags from YAML frontmatter delimited by
// "---" lines. Returns (tags, content) where content has the
// frontmatter stripped. If no frontmatter is found, returns (nil, raw).
//
// Supported frontmatter format:
//
//	---
//	tags: [radarr, sonarr]
//	---
func parseFrontmatter(raw string) ([]string, string) {
	if !strings.HasPrefix(raw, "---") {
		return nil, raw
	}

	rest := strings.TrimLeft(raw[3:], " \t")
	switch {
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	default:
		return nil, raw // No newline after opening ---
	}

	closeIdx := strings.Index(rest, "\n---")
	if closeIdx < 0 {
		return nil, raw
	}

	frontmatter := rest[:closeIdx]
	content := strings.TrimLeft(rest[closeIdx+4:], "\r\n")
	return parseTagsLine(frontmatter), content
}

// parseTagsLine extracts tags from a "tags: [a, b, c]" line within
// frontmatter. Returns nil if no tags line is found.
func parseTagsLine(frontmatter string) []string {
	for _, line := range strings.Split(frontmatter, "\n") {
		line = strings.TrimSpace(line)
		value, ok := strings.CutPrefix(line, "tags:")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.TrimPrefix(value, "[")
		value = strings.TrimSuffix(value, "]")

		var tags []string
		for _, part := range strings.Split(value, ",") {
			if tag := strings.TrimSpace(part); tag != "" {
				tags = append(tags, tag)
			}
		}
		return tags
	}
	return nil
}

// Service describes one backend for the generated manifest.
type Service struct {
	Tag        string
	Name       string
	Configured bool
}

// GenerateManifest creates an untagged Talent listing which media
// services are connected, so the model does not offer actions it
// cannot take. Returns nil when services is empty.
func GenerateManifest(services []Service) *Talent {
	if len(services) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("### Connected services\n\n")
	for _, s := range services {
		status := "connected"
		if !s.Configured {
			status = "not configured; do not offer actions that need it"
		}
		fmt.Fprintf(&sb, "- **%s**: %s\n", s.Name, status)
	}

	return &Talent{
		Name:    "_service_manifest",
		Content: strings.TrimRight(sb.String(), "\n"),
	}
}
