package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// segmentNamespace derives stable point ids from segment ids, so re-indexing
// a version overwrites its points instead of duplicating them.
var segmentNamespace = uuid.MustParse("6f1f6a2e-4f43-4d5e-9a3c-2b7f4c1d8e90")

const versionField = "version_id"

// Client talks to the qdrant REST API. Points carry the segment and version
// ids in their payload; searches are always filtered by version.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	mu         sync.Mutex
	vectorSize int // size of the collection known to exist, 0 until checked
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func PointID(segmentID string) string {
	return uuid.NewSHA1(segmentNamespace, []byte(segmentID)).String()
}

type point struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload pointPayload `json:"payload"`
}

type pointPayload struct {
	SegmentID string `json:"segment_id"`
	VersionID string `json:"version_id"`
	Position  int    `json:"position"`
	Kind      string `json:"kind"`
}

type searchRequest struct {
	Vector      []float32    `json:"vector"`
	Limit       int          `json:"limit"`
	WithPayload []string     `json:"with_payload"`
	Filter      searchFilter `json:"filter"`
}

type searchFilter struct {
	Must []fieldMatch `json:"must"`
}

type fieldMatch struct {
	Key   string   `json:"key"`
	Match matchAny `json:"match"`
}

type matchAny struct {
	Any []string `json:"any"`
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (c *Client) IndexSegments(ctx context.Context, segments []domain.Segment, vectors [][]float32) error {
	if len(segments) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(segments) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "index segments", fmt.Errorf("segments/vectors mismatch: %d/%d", len(segments), len(vectors)))
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]point, len(segments))
	for i, seg := range segments {
		points[i] = point{
			ID:     PointID(seg.ID),
			Vector: vectors[i],
			Payload: pointPayload{
				SegmentID: seg.ID,
				VersionID: seg.VersionID,
				Position:  seg.Position,
				Kind:      string(seg.Kind),
			},
		}
	}
	_, err := c.call(ctx, http.MethodPut, "/points?wait=true", map[string]any{"points": points}, nil, "upsert")
	return err
}

// Search returns hits restricted to the given versions, best first. Payloads
// without a segment id are skipped.
func (c *Client) Search(ctx context.Context, queryVector []float32, versionIDs []string, limit int) ([]domain.DenseHit, error) {
	if len(versionIDs) == 0 || limit <= 0 {
		return []domain.DenseHit{}, nil
	}
	req := searchRequest{
		Vector:      queryVector,
		Limit:       limit,
		WithPayload: []string{"segment_id", versionField},
		Filter:      searchFilter{Must: []fieldMatch{{Key: versionField, Match: matchAny{Any: versionIDs}}}},
	}
	var resp searchResponse
	if _, err := c.call(ctx, http.MethodPost, "/points/search", req, &resp, "search"); err != nil {
		return nil, err
	}

	hits := make([]domain.DenseHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		segmentID := payloadString(r.Payload, "segment_id")
		if segmentID == "" {
			continue
		}
		hits = append(hits, domain.DenseHit{
			SegmentID: segmentID,
			VersionID: payloadString(r.Payload, versionField),
			Score:     r.Score,
		})
	}
	return hits, nil
}

// ensureCollection creates the collection on first use. An existing
// collection (409) is accepted as is.
func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.mu.Lock()
	known := c.vectorSize == vectorSize
	c.mu.Unlock()
	if known {
		return nil
	}

	create := map[string]any{"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"}}
	status, err := c.call(ctx, http.MethodPut, "", create, nil, "create collection", http.StatusConflict)
	if err != nil {
		return err
	}
	if status != http.StatusConflict {
		index := map[string]any{"field_name": versionField, "field_schema": "keyword"}
		if _, err := c.call(ctx, http.MethodPut, "/index?wait=true", index, nil, "payload index", http.StatusConflict); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.vectorSize = vectorSize
	c.mu.Unlock()
	return nil
}

// call sends payload to a collection path and decodes the answer into out
// when out is non-nil. Statuses listed in accept are returned without error.
// Unreachable server and 5xx answers are ErrTemporary, other failures
// ErrInvalidInput.
func (c *Client) call(ctx context.Context, method, path string, payload, out any, op string, accept ...int) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal qdrant %s: %w", op, err)
	}
	url := c.baseURL + "/collections/" + c.collection + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create qdrant %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return 0, fmt.Errorf("qdrant %s: %w", op, err)
		}
		return 0, domain.WrapError(domain.ErrTemporary, "qdrant "+op, err)
	}
	defer resp.Body.Close()

	for _, code := range accept {
		if resp.StatusCode == code {
			return code, nil
		}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		kind := domain.ErrInvalidInput
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = domain.ErrTemporary
		}
		msg := resp.Status
		if detail := strings.TrimSpace(string(raw)); detail != "" {
			msg += ": " + detail
		}
		return resp.StatusCode, domain.WrapError(kind, "qdrant "+op, errors.New(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, domain.WrapError(domain.ErrTemporary, "decode qdrant "+op, err)
		}
	}
	return resp.StatusCode, nil
}

func payloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
