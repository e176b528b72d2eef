package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/preferences"
)

const preferenceSearchLimit = 20

func preferenceDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def("read_household_preferences",
			"Read the household's stored viewing preferences: favorite genres, dislikes, who watches what, quality and language choices. Give a dotted path for one value, keys for top-level sections, or compact for a one-paragraph summary.",
			nil,
			props{
				"keys":    optStringArray("Top-level keys to return."),
				"path":    optString("Dotted path, e.g. members.alex.favorite_genres."),
				"compact": optBool("Return a short text summary instead of the document."),
			}),
		def("search_household_preferences",
			"Search the household preferences for a word, matching both paths and values.",
			[]string{"query"},
			props{
				"query": reqString("Text to look for."),
				"limit": optInt("Maximum matches (default 20)."),
			}),
		def("update_household_preferences",
			"Change the household preferences. Either deep-merge a patch object, or apply op at a dotted path: set replaces the value, append adds to a list, remove_value removes from a list. Only record what the household actually said.",
			nil,
			props{
				"patch": optObject("Object deep-merged into the document."),
				"path":  optString("Dotted path to change."),
				"op":    optEnum("Operation at path (default set).", preferences.OpSet, preferences.OpAppend, preferences.OpRemoveValue),
				"value": map[string]any{"type": []any{"string", "number", "boolean", "object", "null"}, "description": "Value for op at path."},
			}),
		def("query_household_preferences",
			"Ask a question about the household preferences and get a one-sentence answer, e.g. \"does anyone dislike horror?\". Cheaper than reading the whole document.",
			[]string{"query"},
			props{"query": reqString("The question to answer from the preferences.")}),
	}
}

type preferenceTools struct {
	store *preferences.Store

	// llm and model answer query_household_preferences. Without a
	// client that tool reports it is not configured.
	llm   llm.Client
	model string
}

func (t preferenceTools) handlers() map[string]Handler {
	query := t.query
	if t.llm == nil {
		query = notConfigured("the preference question model")
	}
	return map[string]Handler{
		"read_household_preferences":   t.read,
		"search_household_preferences": t.search,
		"update_household_preferences": t.update,
		"query_household_preferences":  query,
	}
}

func (t preferenceTools) read(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	doc, err := t.store.Read(ctx, preferences.ReadRequest{
		Keys:    a.StringList("keys"),
		Path:    a.String("path"),
		Compact: a.Bool("compact", false),
	})
	if err != nil {
		return nil, err
	}
	return okResult("preferences", doc), nil
}

func (t preferenceTools) search(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	query := a.String("query")
	if query == "" {
		return nil, &normalize.ArgError{Field: "query"}
	}
	limit := normalize.Clamp(a.Int("limit", preferenceSearchLimit), preferenceSearchLimit, normalize.PageSizeMax)
	matches, err := t.store.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return okResult("query", query, "count", len(matches), "matches", matches), nil
}

func (t preferenceTools) update(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	doc, err := t.store.Update(ctx, preferences.UpdateRequest{
		Patch: a.Map("patch"),
		Path:  a.String("path"),
		Op:    a.String("op"),
		Value: a["value"],
	})
	if err != nil {
		return nil, err
	}
	return okResult("preferences", doc), nil
}

const preferenceQuestionPrompt = "You answer questions about a household's movie and TV preferences. " +
	"Answer from the preferences given, in exactly one sentence, with no explanation. " +
	"If the preferences do not say, answer that they do not say."

func (t preferenceTools) query(ctx context.Context, raw map[string]any) (map[string]any, error) {
	question := normalize.Args(raw).String("query")
	if question == "" {
		return nil, &normalize.ArgError{Field: "query"}
	}
	summary := t.store.Context(ctx)
	if summary == "" {
		return okResult("query", question, "answer", "No household preferences are stored yet."), nil
	}

	resp, err := t.llm.Chat(ctx, t.model, []llm.Message{
		{Role: llm.RoleSystem, Content: preferenceQuestionPrompt},
		{Role: llm.RoleUser, Content: "Preferences: " + summary + "\n\nQuestion: " + question},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("preference question: %w", err)
	}
	answer := strings.TrimSuffix(strings.TrimSpace(resp.Message.Content), ".")
	return okResult("query", question, "answer", answer), nil
}
