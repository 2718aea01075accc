package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

const extractionSystemPrompt = `You extract structured data from tender and bid documents.
Use only the evidence provided. Reply with a single JSON object and nothing else.
Cite supporting segments in "evidence_chunk_ids" using the ids shown as [segment:<id>].`

type promptData struct {
	SpecName   string
	Categories []domain.Category
	Keys       string
	Evidence   string
	Chunks     []domain.RetrievedChunk
}

func buildExtractionMessages(spec domain.ExtractionSpec, pool []domain.RetrievedChunk) ([]domain.Message, error) {
	prompt, err := renderPrompt(spec, pool)
	if err != nil {
		return nil, err
	}
	return []domain.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: prompt},
	}, nil
}

func renderPrompt(spec domain.ExtractionSpec, pool []domain.RetrievedChunk) (string, error) {
	tmpl, err := template.New(spec.Name).Option("missingkey=zero").Parse(spec.PromptTemplate)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse prompt template", err)
	}

	keys := make([]string, 0, len(spec.Required))
	for _, c := range spec.Required {
		keys = append(keys, fmt.Sprintf("%s (%s)", c.Name, c.Kind))
	}
	data := promptData{
		SpecName:   spec.Name,
		Categories: spec.Required,
		Keys:       strings.Join(keys, ", "),
		Evidence:   serializeEvidence(pool),
		Chunks:     pool,
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "render prompt template", err)
	}
	if !strings.Contains(spec.PromptTemplate, ".Evidence") && !strings.Contains(spec.PromptTemplate, ".Chunks") {
		b.WriteString("\n\nEvidence:\n")
		b.WriteString(data.Evidence)
	}
	return b.String(), nil
}

func serializeEvidence(pool []domain.RetrievedChunk) string {
	var b strings.Builder
	for _, chunk := range pool {
		b.WriteString(evidenceTag(chunk.ID))
		if meta := describeSegment(chunk.Segment); meta != "" {
			b.WriteString(" ")
			b.WriteString(meta)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(chunk.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

func evidenceTag(segmentID string) string {
	return "[segment:" + segmentID + "]"
}

func describeSegment(seg domain.Segment) string {
	parts := make([]string, 0, 3)
	if seg.Kind != "" && seg.Kind != domain.SegmentParagraph {
		parts = append(parts, "kind="+string(seg.Kind))
	}
	if seg.PageStart > 0 {
		if seg.PageEnd > seg.PageStart {
			parts = append(parts, fmt.Sprintf("pages=%d-%d", seg.PageStart, seg.PageEnd))
		} else {
			parts = append(parts, fmt.Sprintf("page=%d", seg.PageStart))
		}
	}
	if len(seg.HeadingPath) > 0 {
		parts = append(parts, "section="+strings.Join(seg.HeadingPath, " > "))
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

var segmentCitation = regexp.MustCompile(`\[segment:([^\]\s]+)\]`)

var evidenceKeys = map[string]struct{}{
	"evidence_chunk_ids": {},
	"evidenceChunkIds":   {},
	"evidence_ids":       {},
}

// collectEvidenceIDs returns the pool ids the model cited, in pool order.
// When nothing valid was cited, the whole pool is the evidence. A top-level
// evidence key is metadata and is removed from data.
func collectEvidenceIDs(raw string, data map[string]any, pool []domain.RetrievedChunk) []string {
	cited := make(map[string]struct{})
	for _, m := range segmentCitation.FindAllStringSubmatch(raw, -1) {
		cited[m[1]] = struct{}{}
	}
	walkEvidence(data, cited)
	for key := range evidenceKeys {
		delete(data, key)
	}

	out := make([]string, 0, len(pool))
	for _, chunk := range pool {
		if _, ok := cited[chunk.ID]; ok {
			out = append(out, chunk.ID)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, chunk := range pool {
		out = append(out, chunk.ID)
	}
	return out
}

func walkEvidence(value any, cited map[string]struct{}) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if _, ok := evidenceKeys[key]; ok {
				addCitedIDs(child, cited)
				continue
			}
			walkEvidence(child, cited)
		}
	case []any:
		for _, child := range v {
			walkEvidence(child, cited)
		}
	}
}

func addCitedIDs(value any, cited map[string]struct{}) {
	switch v := value.(type) {
	case string:
		cited[strings.TrimSuffix(strings.TrimPrefix(v, "[segment:"), "]")] = struct{}{}
	case []any:
		for _, item := range v {
			addCitedIDs(item, cited)
		}
	}
}
