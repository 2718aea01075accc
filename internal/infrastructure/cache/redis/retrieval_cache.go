package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// RetrievalCache stores fused retrieval results keyed by query, limits and
// the resolved version set. Versions are immutable, so a key never goes
// stale; the TTL only bounds memory.
type RetrievalCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

func NewRetrievalCache(client *goredis.Client, ttl time.Duration) *RetrievalCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RetrievalCache{
		client: client,
		ttl:    ttl,
		prefix: "bidscope:retrieval:",
	}
}

func (c *RetrievalCache) Get(ctx context.Context, req domain.RetrievalRequest, versionIDs []string) (*domain.RetrievalResult, bool) {
	key := c.cacheKey(req, versionIDs)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.Warn("retrieval_cache_get_failed", "key", key, "error", err)
		}
		return nil, false
	}

	var result domain.RetrievalResult
	if err := json.Unmarshal(data, &result); err != nil {
		slog.Warn("retrieval_cache_decode_failed", "key", key, "error", err)
		return nil, false
	}
	slog.Debug("retrieval_cache_hit", "key", key)
	return &result, true
}

func (c *RetrievalCache) Set(ctx context.Context, req domain.RetrievalRequest, versionIDs []string, result *domain.RetrievalResult) {
	if result == nil || result.Degraded {
		return
	}
	key := c.cacheKey(req, versionIDs)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("retrieval_cache_set_failed", "key", key, "error", err)
	}
}

func (c *RetrievalCache) cacheKey(req domain.RetrievalRequest, versionIDs []string) string {
	ids := append([]string(nil), versionIDs...)
	sort.Strings(ids)

	raw := fmt.Sprintf("%s|%d|%d|%d|%s",
		req.Query,
		req.TopK,
		req.DenseLimit,
		req.LexicalLimit,
		strings.Join(ids, ","),
	)
	hash := sha256.Sum256([]byte(raw))
	return c.prefix + hex.EncodeToString(hash[:16])
}
