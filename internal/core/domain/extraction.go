package domain

import (
	"fmt"
	"strings"
	"time"
)

type CategoryKind string

const (
	CategoryObject CategoryKind = "object"
	CategoryArray  CategoryKind = "array"
)

type QueryGroup struct {
	Name  string `json:"name" yaml:"name"`
	Query string `json:"query" yaml:"query"`
	TopK  int    `json:"top_k" yaml:"top_k"`
}

type Category struct {
	Name string       `json:"name" yaml:"name"`
	Kind CategoryKind `json:"kind" yaml:"kind"`
}

// ExtractionSpec is a named, versioned extraction configuration.
type ExtractionSpec struct {
	Name           string       `json:"name" yaml:"name"`
	Version        string       `json:"version" yaml:"version"`
	Stage          string       `json:"stage" yaml:"stage"`
	QueryGroups    []QueryGroup `json:"query_groups" yaml:"query_groups"`
	PromptTemplate string       `json:"prompt_template" yaml:"prompt_template"`
	Required       []Category   `json:"required" yaml:"required"`
	MaxTokens      int          `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

func (s ExtractionSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return WrapError(ErrInvalidInput, "validate extraction spec", fmt.Errorf("name is empty"))
	}
	if len(s.QueryGroups) == 0 {
		return WrapError(ErrInvalidInput, "validate extraction spec", fmt.Errorf("spec %s has no query groups", s.Name))
	}
	for _, g := range s.QueryGroups {
		if strings.TrimSpace(g.Query) == "" {
			return WrapError(ErrInvalidInput, "validate extraction spec", fmt.Errorf("spec %s group %q has empty query", s.Name, g.Name))
		}
	}
	if strings.TrimSpace(s.PromptTemplate) == "" {
		return WrapError(ErrInvalidInput, "validate extraction spec", fmt.Errorf("spec %s has empty prompt template", s.Name))
	}
	seen := make(map[string]struct{}, len(s.Required))
	for _, c := range s.Required {
		if c.Kind != CategoryObject && c.Kind != CategoryArray {
			return WrapError(ErrInvalidInput, "validate extraction spec", fmt.Errorf("spec %s category %q has unknown kind %q", s.Name, c.Name, c.Kind))
		}
		if _, dup := seen[c.Name]; dup {
			return WrapError(ErrInvalidInput, "validate extraction spec", fmt.Errorf("spec %s declares category %q twice", s.Name, c.Name))
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// StageName is the cutover stage this extraction is gated under.
func (s ExtractionSpec) StageName() string {
	if s.Stage != "" {
		return s.Stage
	}
	return s.Name
}

type Timing struct {
	RetrievalMs float64 `json:"retrieval_ms"`
	LLMMs       float64 `json:"llm_ms"`
	ParseMs     float64 `json:"parse_ms"`
	TotalMs     float64 `json:"total_ms"`
}

// DurationMs converts with sub-millisecond precision.
func DurationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type ExtractionResult struct {
	RunID            string         `json:"run_id"`
	SpecName         string         `json:"spec_name"`
	SpecVersion      string         `json:"spec_version"`
	ModelID          string         `json:"model_id"`
	Data             map[string]any `json:"data"`
	EvidenceChunkIDs []string       `json:"evidence_chunk_ids"`
	MissingRequired  []string       `json:"missing_required,omitempty"`
	Degraded         bool           `json:"degraded"`
	Timing           Timing         `json:"timing"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

type RunVariant string

const (
	VariantOld RunVariant = "old"
	VariantNew RunVariant = "new"
)

// RunRecord is what the result store persists per entity and spec. A rerun
// overwrites the previous record wholesale.
type RunRecord struct {
	EntityID   string            `json:"entity_id"`
	SpecName   string            `json:"spec_name"`
	RunID      string            `json:"run_id"`
	Status     RunStatus         `json:"status"`
	Mode       CutoverMode       `json:"mode"`
	Variant    RunVariant        `json:"variant"`
	ErrorClass string            `json:"error_class,omitempty"`
	Message    string            `json:"message,omitempty"`
	Result     *ExtractionResult `json:"result,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

type RunRequest struct {
	EntityID    string    `json:"entity_id"`
	SpecName    string    `json:"spec_name"`
	ModelID     string    `json:"model_id,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Scope       Scope     `json:"scope"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateOptions struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
	JSON      bool
}
