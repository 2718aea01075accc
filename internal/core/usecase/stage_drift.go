package usecase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// diffExtractionResults compares the structure of two results' data: key
// sets, value kinds and array lengths. Scalar values are not compared.
func diffExtractionResults(legacy, next *domain.ExtractionResult) []string {
	switch {
	case legacy == nil && next == nil:
		return nil
	case legacy == nil:
		return []string{"$: legacy result missing"}
	case next == nil:
		return []string{"$: new result missing"}
	}
	var out []string
	structuralDiff("$", toGeneric(legacy.Data), toGeneric(next.Data), &out)
	return out
}

func toGeneric(data map[string]any) any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

func structuralDiff(path string, a, b any, out *[]string) {
	ka, kb := valueKind(a), valueKind(b)
	if ka != kb {
		*out = append(*out, fmt.Sprintf("%s: kind %s -> %s", path, ka, kb))
		return
	}
	switch av := a.(type) {
	case map[string]any:
		bv := b.(map[string]any)
		keys := make([]string, 0, len(av)+len(bv))
		for k := range av {
			keys = append(keys, k)
		}
		for k := range bv {
			if _, ok := av[k]; !ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := path + "." + k
			left, inA := av[k]
			right, inB := bv[k]
			switch {
			case !inB:
				*out = append(*out, child+": missing in new")
			case !inA:
				*out = append(*out, child+": only in new")
			default:
				structuralDiff(child, left, right, out)
			}
		}
	case []any:
		bv := b.([]any)
		if len(av) != len(bv) {
			*out = append(*out, fmt.Sprintf("%s: length %d -> %d", path, len(av), len(bv)))
		}
		n := min(len(av), len(bv))
		for i := 0; i < n; i++ {
			structuralDiff(fmt.Sprintf("%s[%d]", path, i), av[i], bv[i], out)
		}
	}
}

func valueKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func summarizeDrift(diffs []string, limit int) string {
	if len(diffs) <= limit {
		return strings.Join(diffs, "; ")
	}
	return strings.Join(diffs[:limit], "; ") + fmt.Sprintf("; ... %d more", len(diffs)-limit)
}
