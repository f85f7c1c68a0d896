package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lifelog/internal/types"
)

// Bridge exposes the journal store as namespaced tools and doubles as
// the skeleton builder and user-context source. Tool names follow the
// skill namespace convention: "journal.*" for generic entry access,
// "health.*" and "workout.*" for category shortcuts.
type Bridge struct {
	store *Store
}

// NewBridge wraps a store.
func NewBridge(store *Store) *Bridge {
	return &Bridge{store: store}
}

func (b *Bridge) ListTools() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        "journal.create_entry",
			Description: "Record a journal entry for a date. Categories: " + strings.Join(Categories, ", ") + ".",
			InputSchema: objectSchema(map[string]any{
				"date":     stringProp("Entry date, YYYY-MM-DD."),
				"category": stringProp("One of: " + strings.Join(Categories, ", ") + "."),
				"text":     stringProp("What happened, in the user's words."),
			}, "date", "category", "text"),
		},
		{
			Name:        "journal.list_entries",
			Description: "List entries for a date, optionally filtered by category.",
			InputSchema: objectSchema(map[string]any{
				"date":     stringProp("Date to list, YYYY-MM-DD."),
				"category": stringProp("Optional category filter."),
			}, "date"),
		},
		{
			Name:        "journal.search_entries",
			Description: "Search entry text across all dates.",
			InputSchema: objectSchema(map[string]any{
				"query": stringProp("Substring to search for."),
				"limit": numberProp("Maximum results, default 20."),
			}, "query"),
		},
		{
			Name:        "journal.delete_entry",
			Description: "Delete an entry by its id.",
			InputSchema: objectSchema(map[string]any{
				"id": stringProp("Entry id as returned by create or list."),
			}, "id"),
		},
		{
			Name:        "health.log_metric",
			Description: "Record a health observation (sleep, mood, weight, symptoms) for a date.",
			InputSchema: objectSchema(map[string]any{
				"date": stringProp("Date, YYYY-MM-DD."),
				"kind": stringProp("One of: sleep, health, mood."),
				"text": stringProp("The observation."),
			}, "date", "kind", "text"),
		},
		{
			Name:        "health.history",
			Description: "List health observations over a date range.",
			InputSchema: objectSchema(map[string]any{
				"from": stringProp("Range start, YYYY-MM-DD."),
				"to":   stringProp("Range end, YYYY-MM-DD."),
				"kind": stringProp("Optional: sleep, health, or mood."),
			}, "from", "to"),
		},
		{
			Name:        "workout.log_session",
			Description: "Record a workout for a date.",
			InputSchema: objectSchema(map[string]any{
				"date": stringProp("Date, YYYY-MM-DD."),
				"text": stringProp("What the session was."),
			}, "date", "text"),
		},
		{
			Name:        "workout.history",
			Description: "List workouts over a date range.",
			InputSchema: objectSchema(map[string]any{
				"from": stringProp("Range start, YYYY-MM-DD."),
				"to":   stringProp("Range end, YYYY-MM-DD."),
			}, "from", "to"),
		},
	}
}

func (b *Bridge) ExecuteTool(ctx context.Context, name string, input map[string]any) (string, error) {
	switch name {
	case "journal.create_entry":
		return b.createEntry(ctx, str(input, "date"), str(input, "category"), str(input, "text"))
	case "journal.list_entries":
		entries, err := b.store.ByDate(ctx, str(input, "date"), str(input, "category"))
		if err != nil {
			return "", err
		}
		return renderEntries(entries), nil
	case "journal.search_entries":
		entries, err := b.store.Search(ctx, str(input, "query"), num(input, "limit"))
		if err != nil {
			return "", err
		}
		return renderEntries(entries), nil
	case "journal.delete_entry":
		if err := b.store.Delete(ctx, str(input, "id")); err != nil {
			return "", err
		}
		return "deleted", nil
	case "health.log_metric":
		kind := str(input, "kind")
		if kind != "sleep" && kind != "mood" {
			kind = "health"
		}
		return b.createEntry(ctx, str(input, "date"), kind, str(input, "text"))
	case "health.history":
		return b.history(ctx, str(input, "from"), str(input, "to"), str(input, "kind"))
	case "workout.log_session":
		return b.createEntry(ctx, str(input, "date"), "workout", str(input, "text"))
	case "workout.history":
		return b.history(ctx, str(input, "from"), str(input, "to"), "workout")
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (b *Bridge) createEntry(ctx context.Context, date, category, text string) (string, error) {
	e, err := b.store.Create(ctx, date, category, text, nil)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bridge) history(ctx context.Context, from, to, category string) (string, error) {
	entries, err := b.store.Range(ctx, from, to, category)
	if err != nil {
		return "", err
	}
	return renderEntries(entries), nil
}

// BuildSkeleton summarizes what is already recorded for a date so the
// model can slot new information in without re-asking.
func (b *Bridge) BuildSkeleton(ctx context.Context, date string) (string, error) {
	entries, err := b.store.ByDate(ctx, date, "")
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No entries recorded yet for " + date + ".", nil
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s (id=%s)\n", e.Category, e.Text, e.ID)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// UserContext returns the stored profile text. The date parameter is
// unused here; other sources may vary context by day.
func (b *Bridge) UserContext(ctx context.Context, _ string) (string, error) {
	return b.store.Profile(ctx)
}

func renderEntries(entries []Entry) string {
	if len(entries) == 0 {
		return "0 entries found"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d entries found\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s [%s] %s (id=%s)\n", e.Date, e.Category, e.Text, e.ID)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func str(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func num(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
