package usecase

import (
	"sort"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

const defaultRRFK = 60

type fusedCandidate struct {
	segmentID   string
	score       float64
	denseRank   int
	lexicalRank int
}

func (c fusedCandidate) path() domain.RetrievalPath {
	switch {
	case c.denseRank >= 0 && c.lexicalRank >= 0:
		return domain.PathBoth
	case c.denseRank >= 0:
		return domain.PathDense
	default:
		return domain.PathLexical
	}
}

// fuseCandidatesRRF sums 1/(k+rank) per list with zero-based ranks. A segment
// repeated inside one list only counts at its best rank.
func fuseCandidatesRRF(dense []domain.DenseHit, lexical []domain.LexicalHit, rrfK int) []fusedCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]*fusedCandidate, len(dense)+len(lexical))
	get := func(id string) *fusedCandidate {
		c, ok := acc[id]
		if !ok {
			c = &fusedCandidate{segmentID: id, denseRank: -1, lexicalRank: -1}
			acc[id] = c
		}
		return c
	}

	for rank, hit := range dense {
		c := get(hit.SegmentID)
		if c.denseRank >= 0 {
			continue
		}
		c.denseRank = rank
		c.score += 1.0 / float64(rrfK+rank)
	}
	for rank, hit := range lexical {
		c := get(hit.SegmentID)
		if c.lexicalRank >= 0 {
			continue
		}
		c.lexicalRank = rank
		c.score += 1.0 / float64(rrfK+rank)
	}

	out := make([]fusedCandidate, 0, len(acc))
	for _, c := range acc {
		out = append(out, *c)
	}
	sortFused(out)
	return out
}

func sortFused(out []fusedCandidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		li, lj := lexicalOrder(out[i].lexicalRank), lexicalOrder(out[j].lexicalRank)
		if li != lj {
			return li < lj
		}
		return out[i].segmentID < out[j].segmentID
	})
}

// lexicalOrder sorts candidates missing from the lexical list after all ranked ones.
func lexicalOrder(rank int) int {
	if rank < 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

// lexicalOnlyCandidates keeps the lexical ranking as is for degraded retrieval.
func lexicalOnlyCandidates(lexical []domain.LexicalHit) []fusedCandidate {
	out := make([]fusedCandidate, 0, len(lexical))
	seen := make(map[string]struct{}, len(lexical))
	for rank, hit := range lexical {
		if _, dup := seen[hit.SegmentID]; dup {
			continue
		}
		seen[hit.SegmentID] = struct{}{}
		out = append(out, fusedCandidate{
			segmentID:   hit.SegmentID,
			score:       hit.Score,
			denseRank:   -1,
			lexicalRank: rank,
		})
	}
	return out
}

func trimCandidates(candidates []fusedCandidate, limit int) []fusedCandidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}
