package memory

import (
	"math"
	"strings"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// termStats is the per-segment lexical vector, computed once at insert time.
type termStats struct {
	freq   map[string]float64
	length int
}

func newTermStats(text string) termStats {
	tokens := tokenize(text)
	freq := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		freq[token]++
	}
	return termStats{freq: freq, length: len(tokens)}
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// matching the 'simple' text search configuration used by PostgreSQL.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func queryTerms(query string) []string {
	tokens := tokenize(query)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// bm25Scorer scores documents of one search corpus (the scoped segments).
type bm25Scorer struct {
	idf       map[string]float64
	avgLength float64
}

func newBM25Scorer(terms []string, corpus []termStats) bm25Scorer {
	total := 0
	df := make(map[string]int, len(terms))
	for _, doc := range corpus {
		total += doc.length
		for _, term := range terms {
			if doc.freq[term] > 0 {
				df[term]++
			}
		}
	}
	n := float64(len(corpus))
	idf := make(map[string]float64, len(terms))
	for _, term := range terms {
		d := float64(df[term])
		idf[term] = math.Log(1 + (n-d+0.5)/(d+0.5))
	}
	avg := 0.0
	if len(corpus) > 0 {
		avg = float64(total) / n
	}
	return bm25Scorer{idf: idf, avgLength: avg}
}

func (s bm25Scorer) score(terms []string, doc termStats) float64 {
	if s.avgLength == 0 {
		return 0
	}
	norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.length)/s.avgLength)
	total := 0.0
	for _, term := range terms {
		tf := doc.freq[term]
		if tf == 0 {
			continue
		}
		total += s.idf[term] * (tf * (bm25K1 + 1)) / (tf + norm)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}
