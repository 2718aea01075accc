package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type Document struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentVersion is immutable; new content always produces a new version.
type DocumentVersion struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// VersionRef is what the document registry hands to retrieval to build a scope.
type VersionRef struct {
	VersionID  string `json:"version_id"`
	DocumentID string `json:"document_id"`
	Namespace  string `json:"namespace"`
}

type SegmentKind string

const (
	SegmentParagraph SegmentKind = "paragraph"
	SegmentTable     SegmentKind = "table"
	SegmentList      SegmentKind = "list"
	SegmentOther     SegmentKind = "other"
)

func ParseSegmentKind(raw string) SegmentKind {
	switch SegmentKind(raw) {
	case SegmentParagraph, SegmentTable, SegmentList:
		return SegmentKind(raw)
	default:
		return SegmentOther
	}
}

type Segment struct {
	ID          string      `json:"id"`
	VersionID   string      `json:"version_id"`
	Position    int         `json:"position"`
	Text        string      `json:"text"`
	PageStart   int         `json:"page_start,omitempty"`
	PageEnd     int         `json:"page_end,omitempty"`
	HeadingPath []string    `json:"heading_path,omitempty"`
	Kind        SegmentKind `json:"kind"`
}

// ContentHash returns the sha256 hex digest used as the version identity of uploaded bytes.
func ContentHash(content []byte) (string, error) {
	h := sha256.New()
	n, err := h.Write(content)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	if n != len(content) {
		return "", fmt.Errorf("hash content: short write %d/%d", n, len(content))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckSegmentOrder rejects batches whose positions are negative or not
// strictly increasing.
func CheckSegmentOrder(segments []Segment) error {
	prev := -1
	for i, seg := range segments {
		if seg.Position <= prev {
			return WrapError(ErrInvalidInput, "check segment order", fmt.Errorf("segment %d has position %d after %d", i, seg.Position, prev))
		}
		prev = seg.Position
	}
	return nil
}
