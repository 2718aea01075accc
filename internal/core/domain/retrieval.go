package domain

// RetrievalPath tells which ranked list(s) a chunk came from.
type RetrievalPath string

const (
	PathDense   RetrievalPath = "dense"
	PathLexical RetrievalPath = "lexical"
	PathBoth    RetrievalPath = "both"
)

// Scope restricts retrieval. Explicit VersionIDs win; otherwise versions are
// resolved from the registry for EntityID filtered by DocTypes.
type Scope struct {
	EntityID   string   `json:"entity_id,omitempty"`
	VersionIDs []string `json:"version_ids,omitempty"`
	DocTypes   []string `json:"doc_types,omitempty"`
}

type RetrievalRequest struct {
	Query        string
	Scope        Scope
	TopK         int
	DenseLimit   int
	LexicalLimit int
}

// LexicalHit is an id-only ranking entry; payloads are loaded after fusion.
type LexicalHit struct {
	SegmentID string  `json:"segment_id"`
	VersionID string  `json:"version_id"`
	Score     float64 `json:"score"`
}

type DenseHit struct {
	SegmentID string  `json:"segment_id"`
	VersionID string  `json:"version_id"`
	Score     float64 `json:"score"`
}

// DenseRank and LexicalRank are zero-based; -1 means absent from that list.
type RetrievedChunk struct {
	Segment
	Score       float64       `json:"score"`
	Path        RetrievalPath `json:"path"`
	DenseRank   int           `json:"dense_rank"`
	LexicalRank int           `json:"lexical_rank"`
}

type RetrievalResult struct {
	Chunks         []RetrievedChunk `json:"chunks"`
	Degraded       bool             `json:"degraded"`
	DegradedReason string           `json:"degraded_reason,omitempty"`
}
