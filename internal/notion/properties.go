package notion

import (
	"path"
	"time"
)

// Notion caps file display names at 100 characters.
const maxFileNameLength = 100

func titleProperty(text string) map[string]any {
	return map[string]any{
		"title": []any{
			map[string]any{"text": map[string]any{"content": text}},
		},
	}
}

func richTextProperty(text string) map[string]any {
	return map[string]any{
		"rich_text": []any{
			map[string]any{"text": map[string]any{"content": text}},
		},
	}
}

func numberProperty(n int) map[string]any {
	return map[string]any{"number": n}
}

func relationProperty(pageIDs []string) map[string]any {
	relations := make([]any, 0, len(pageIDs))
	for _, id := range pageIDs {
		relations = append(relations, map[string]any{"id": id})
	}
	return map[string]any{"relation": relations}
}

func filesProperty(name, url string) map[string]any {
	return map[string]any{
		"files": []any{
			map[string]any{
				"type":     "external",
				"name":     name,
				"external": map[string]any{"url": url},
			},
		},
	}
}

// dateProperty parses a raw source date string. Unparsable dates are
// omitted from the written record rather than failing the upsert.
func dateProperty(raw string) (map[string]any, bool) {
	if raw == "" {
		return nil, false
	}
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return map[string]any{"date": map[string]any{"start": raw}}, true
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return map[string]any{"date": map[string]any{"start": raw}}, true
	}
	return nil, false
}

// truncateFileName shortens a display name to the limit, keeping the file
// extension and marking the cut with an ellipsis.
func truncateFileName(name string, limit int) string {
	runes := []rune(name)
	if limit <= 0 || len(runes) <= limit {
		return name
	}
	ext := []rune(path.Ext(name))
	keep := limit - len(ext) - 1
	if keep < 1 {
		return string(runes[:limit])
	}
	return string(runes[:keep]) + "…" + string(ext)
}
