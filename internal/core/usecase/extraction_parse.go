package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

const parseSnippetLimit = 512

// parseModelOutput decodes the single JSON object the model is asked to
// return, tolerating a fenced code block around it.
func parseModelOutput(raw string) (map[string]any, error) {
	payload := extractJSONPayload(raw)
	if payload == "" {
		return nil, &domain.ParseError{Snippet: snippet(raw), Err: errors.New("empty model output")}
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, &domain.ParseError{Snippet: snippet(raw), Err: err}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &domain.ParseError{Snippet: snippet(raw), Err: fmt.Errorf("top-level value is %T, want object", decoded)}
	}
	return obj, nil
}

func extractJSONPayload(raw string) string {
	text := strings.TrimSpace(raw)
	if inner, ok := unwrapFence(text); ok {
		text = strings.TrimSpace(inner)
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text
	}
	return extractJSONObject(text)
}

// unwrapFence returns the body of the first ``` block, skipping its info string.
func unwrapFence(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	body := text[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return "", false
	}
	closeIdx := strings.Index(body, "```")
	if closeIdx < 0 {
		return body, true
	}
	return body[:closeIdx], true
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func snippet(raw string) string {
	if len(raw) <= parseSnippetLimit {
		return raw
	}
	return raw[:parseSnippetLimit]
}

// projectRequired backfills every required category that is absent or null
// with its empty default. Categories not in the schema pass through.
func projectRequired(specName string, data map[string]any, required []domain.Category) (map[string]any, []string) {
	if data == nil {
		data = make(map[string]any, len(required))
	}
	var missing []string
	for _, category := range required {
		value, ok := data[category.Name]
		if !ok || value == nil {
			data[category.Name] = emptyCategoryValue(category.Kind)
			missing = append(missing, category.Name)
			continue
		}
		if !matchesKind(value, category.Kind) {
			slog.Warn("extraction_schema_mismatch",
				"spec", specName,
				"category", category.Name,
				"want", string(category.Kind),
				"got", fmt.Sprintf("%T", value),
			)
		}
	}
	if len(missing) > 0 {
		slog.Info("extraction_schema_backfill",
			"spec", specName,
			"missing", missing,
			"error", domain.WrapError(domain.ErrSchema, "project required categories", fmt.Errorf("%d categories missing", len(missing))),
		)
	}
	return data, missing
}

func emptyCategoryValue(kind domain.CategoryKind) any {
	if kind == domain.CategoryArray {
		return []any{}
	}
	return map[string]any{}
}

func matchesKind(value any, kind domain.CategoryKind) bool {
	switch kind {
	case domain.CategoryArray:
		_, ok := value.([]any)
		return ok
	case domain.CategoryObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
