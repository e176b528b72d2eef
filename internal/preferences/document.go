package preferences

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// splitPath turns "likes.genres[0]" or "likes.genres.0" into segments.
func splitPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	var out []string
	for _, p := range strings.Split(path, ".") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the value at a dotted path.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range splitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Merge deep-merges patch into dst. Objects merge key by key; any other
// value replaces what was there. A null in patch deletes the key.
func Merge(dst, patch map[string]any) {
	for k, pv := range patch {
		if pv == nil {
			delete(dst, k)
			continue
		}
		pm, pIsMap := pv.(map[string]any)
		dm, dIsMap := dst[k].(map[string]any)
		if pIsMap && dIsMap {
			Merge(dm, pm)
			continue
		}
		dst[k] = pv
	}
}

// Apply runs op at path. Intermediate objects are created as needed.
// append adds to a list (creating it, skipping duplicates);
// remove_value removes every equal element from a list.
func Apply(doc map[string]any, path, op string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	parent := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			if _, exists := parent[seg]; exists {
				return fmt.Errorf("%s: %q is not an object", path, seg)
			}
			next = map[string]any{}
			parent[seg] = next
		}
		parent = next
	}
	leaf := segs[len(segs)-1]

	switch op {
	case OpSet:
		parent[leaf] = value
	case OpAppend:
		list, err := listAt(parent, leaf, path)
		if err != nil {
			return err
		}
		for _, v := range asSlice(value) {
			if !contains(list, v) {
				list = append(list, v)
			}
		}
		parent[leaf] = list
	case OpRemoveValue:
		list, err := listAt(parent, leaf, path)
		if err != nil {
			return err
		}
		kept := list[:0]
		for _, v := range list {
			if !contains(asSlice(value), v) {
				kept = append(kept, v)
			}
		}
		parent[leaf] = kept
	default:
		return fmt.Errorf("unknown op %q (want set, append or remove_value)", op)
	}
	return nil
}

func listAt(parent map[string]any, key, path string) ([]any, error) {
	switch v := parent[key].(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%s is not a list", path)
	}
}

func asSlice(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{v}
}

func contains(list []any, v any) bool {
	for _, e := range list {
		if equalFold(e, v) {
			return true
		}
	}
	return false
}

func equalFold(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(strings.TrimSpace(as), strings.TrimSpace(bs))
	}
	return reflect.DeepEqual(a, b)
}

// Flatten lists every leaf with its path. Object keys are visited in
// sorted order so results are stable.
func Flatten(doc map[string]any) []Match {
	var out []Match
	flatten(doc, "", &out)
	return out
}

func flatten(v any, base string, out *[]Match) {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if base != "" {
				p = base + "." + k
			}
			flatten(node[k], p, out)
		}
	case []any:
		for i, e := range node {
			flatten(e, base+"["+strconv.Itoa(i)+"]", out)
		}
	default:
		*out = append(*out, Match{Path: base, Value: scalar(node)})
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// summaryOrder puts the sections that matter most for recommendations
// first; other top-level keys follow alphabetically.
var summaryOrder = []string{"notes", "constraints", "likes", "dislikes", "neverRecommend", "antiPreferences", "anchors", "profile", "heuristics", "currentCuriosities"}

// Summarize renders the document as a few compact lines, one per
// top-level section: "likes: genres [Drama, Noir]; vibes [moody]".
func Summarize(doc map[string]any) string {
	if len(doc) == 0 {
		return ""
	}
	seen := map[string]bool{}
	var keys []string
	for _, k := range summaryOrder {
		if _, ok := doc[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range doc {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var lines []string
	for _, k := range keys {
		if line := summarizeValue(doc[k]); line != "" {
			lines = append(lines, k+": "+line)
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeValue(v any) string {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if s := summarizeValue(node[k]); s != "" {
				parts = append(parts, k+" "+s)
			}
		}
		return strings.Join(parts, "; ")
	case []any:
		if len(node) == 0 {
			return ""
		}
		items := make([]string, 0, len(node))
		for _, e := range node {
			items = append(items, scalar(e))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case nil:
		return ""
	case string:
		return strings.TrimSpace(node)
	default:
		return scalar(node)
	}
}
