package usecase

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func TestParseModelOutputAcceptsWrappers(t *testing.T) {
	cases := map[string]string{
		"plain":         `{"base": {"a": 1}}`,
		"fenced json":   "```json\n{\"base\": {\"a\": 1}}\n```",
		"fenced bare":   "```\n{\"base\": {\"a\": 1}}\n```",
		"unclosed":      "```json\n{\"base\": {\"a\": 1}}",
		"prose around":  "Here you go: {\"base\": {\"a\": 1}} hope it helps",
		"padded fenced": "Result:\n```json\n  {\"base\": {\"a\": 1}}  \n```\nDone.",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := parseModelOutput(raw)
			if err != nil {
				t.Fatalf("parseModelOutput() error = %v", err)
			}
			base, ok := data["base"].(map[string]any)
			if !ok || base["a"] != float64(1) {
				t.Fatalf("unexpected data %#v", data)
			}
		})
	}
}

func TestParseModelOutputRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{"", "   ", "[1, 2]", "{broken", "```json\n```"} {
		_, err := parseModelOutput(raw)
		var parseErr *domain.ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("parseModelOutput(%q) expected ParseError, got %v", raw, err)
		}
	}
}

func TestParseErrorSnippetIsBounded(t *testing.T) {
	raw := strings.Repeat("x", 2000)
	_, err := parseModelOutput(raw)
	var parseErr *domain.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if len(parseErr.Snippet) != parseSnippetLimit {
		t.Fatalf("expected snippet of %d bytes, got %d", parseSnippetLimit, len(parseErr.Snippet))
	}
}

func TestProjectRequiredPassesMismatchedKindsThrough(t *testing.T) {
	data, missing := projectRequired("s", map[string]any{"base": []any{}}, []domain.Category{
		{Name: "base", Kind: domain.CategoryObject},
	})
	if len(missing) != 0 {
		t.Fatalf("present category reported missing: %v", missing)
	}
	if _, ok := data["base"].([]any); !ok {
		t.Fatalf("expected original value kept, got %#v", data["base"])
	}

	data, missing = projectRequired("s", nil, []domain.Category{{Name: "scoring", Kind: domain.CategoryArray}})
	if !reflect.DeepEqual(data, map[string]any{"scoring": []any{}}) || !reflect.DeepEqual(missing, []string{"scoring"}) {
		t.Fatalf("unexpected backfill %#v %v", data, missing)
	}
}

func TestCollectEvidenceIDsFromCitations(t *testing.T) {
	pool := []domain.RetrievedChunk{
		{Segment: domain.Segment{ID: "s1"}},
		{Segment: domain.Segment{ID: "s2"}},
		{Segment: domain.Segment{ID: "s3"}},
	}
	raw := `{"base": {"price": "100 [segment:s3]"}, "evidence_chunk_ids": ["[segment:s1]", "unknown"]}`
	data, err := parseModelOutput(raw)
	if err != nil {
		t.Fatalf("parseModelOutput() error = %v", err)
	}
	ids := collectEvidenceIDs(raw, data, pool)
	if !reflect.DeepEqual(ids, []string{"s1", "s3"}) {
		t.Fatalf("expected cited ids in pool order, got %v", ids)
	}
	if _, ok := data["evidence_chunk_ids"]; ok {
		t.Fatalf("top-level evidence key must be removed from data")
	}

	ids = collectEvidenceIDs(`{"base": {}}`, map[string]any{"base": map[string]any{}}, pool)
	if !reflect.DeepEqual(ids, []string{"s1", "s2", "s3"}) {
		t.Fatalf("expected whole pool without citations, got %v", ids)
	}
}

func TestRenderPromptAppendsEvidenceWhenTemplateOmitsIt(t *testing.T) {
	spec := tenderSpec()
	spec.PromptTemplate = "Extract {{.Keys}} for {{.SpecName}}"
	pool := []domain.RetrievedChunk{{Segment: domain.Segment{
		ID: "s1", Text: " Deadline 10 May ", Kind: domain.SegmentTable, PageStart: 2, PageEnd: 3, HeadingPath: []string{"1 General", "1.2 Dates"},
	}}}
	prompt, err := renderPrompt(spec, pool)
	if err != nil {
		t.Fatalf("renderPrompt() error = %v", err)
	}
	for _, want := range []string{
		"Extract base (object), scoring (array) for tender_parse",
		"Evidence:",
		"[segment:s1] (kind=table, pages=2-3, section=1 General > 1.2 Dates)\nDeadline 10 May",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}

	spec.PromptTemplate = "{{.Broken"
	if _, err := renderPrompt(spec, pool); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad template, got %v", err)
	}
}
