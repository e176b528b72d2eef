package tools

import (
	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/llm"
)

// Schema helpers. Every parameter carries a type and a description.
// Optional parameters admit null in their type union instead of being
// listed as required; arrays always declare items.

type props map[string]any

func def(name, description string, required []string, p props) llm.ToolDefinition {
	if required == nil {
		required = []string{}
	}
	if p == nil {
		p = props{}
	}
	return llm.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any(p),
			"required":   required,
		},
	}
}

func reqString(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func reqInt(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func reqNumber(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func optString(desc string) map[string]any {
	return map[string]any{"type": []string{"string", "null"}, "description": desc}
}

func optInt(desc string) map[string]any {
	return map[string]any{"type": []string{"integer", "null"}, "description": desc}
}

func optNumber(desc string) map[string]any {
	return map[string]any{"type": []string{"number", "null"}, "description": desc}
}

func optBool(desc string) map[string]any {
	return map[string]any{"type": []string{"boolean", "null"}, "description": desc}
}

func optObject(desc string) map[string]any {
	return map[string]any{"type": []string{"object", "null"}, "description": desc}
}

func optEnum(desc string, values ...string) map[string]any {
	enum := make([]any, 0, len(values)+1)
	for _, v := range values {
		enum = append(enum, v)
	}
	enum = append(enum, nil)
	return map[string]any{"type": []string{"string", "null"}, "enum": enum, "description": desc}
}

func optIntArray(desc string) map[string]any {
	return map[string]any{
		"type":        []string{"array", "null"},
		"items":       map[string]any{"type": "integer"},
		"description": desc,
	}
}

func reqIntList(desc string) map[string]any {
	return map[string]any{
		"type":        []string{"array", "string"},
		"items":       map[string]any{"type": "integer"},
		"description": desc + " Accepts a list of integers or a comma-separated string.",
	}
}

func optStringArray(desc string) map[string]any {
	return map[string]any{
		"type":        []string{"array", "null"},
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

// optIntList accepts a list of ids or a comma-separated string.
func optIntList(desc string) map[string]any {
	return map[string]any{
		"type":        []string{"array", "string", "null"},
		"items":       map[string]any{"type": "integer"},
		"description": desc + " Accepts a list of integers or a comma-separated string.",
	}
}

func level(def detail.Level) map[string]any {
	return optEnum("How much detail to return per item. Defaults to "+def.String()+".", detail.Names()...)
}

func with(base props, extra props) props {
	out := make(props, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

var (
	pagingProps = props{
		"page":      optInt("Page number, starting at 1."),
		"page_size": optInt("Records per page (default 20, max 100)."),
		"sort_key":  optString("Field to sort by."),
		"sort_dir":  optEnum("Sort direction (default descending).", "ascending", "descending"),
	}
	calendarProps = props{
		"start_date": optString("First day, YYYY-MM-DD (default today)."),
		"end_date":   optString("Last day, YYYY-MM-DD (default start + days)."),
		"days":       optInt("Window length in days when end_date is omitted (default 7)."),
	}
)
