package chunking

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// PageBreak separates pages in extracted text.
const PageBreak = "\f"

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+(\S.*)$`)
	listItem        = regexp.MustCompile(`^(?:[-*•–]|\d+[)]|[a-zа-я][)])\s+`)
)

// Segmenter splits extracted text into ordered segments. Blocks are separated
// by blank lines; headings update the heading path and are not emitted on
// their own; adjacent blocks of one kind under one heading are packed up to
// ChunkSize runes.
type Segmenter struct {
	ChunkSize int
	Overlap   int
}

func NewSegmenter(chunkSize, overlap int) *Segmenter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Segmenter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

type block struct {
	text     string
	kind     domain.SegmentKind
	page     int
	headings []string
}

func (s *Segmenter) Segment(text string) []domain.Segment {
	blocks := s.blocks(text)
	out := make([]domain.Segment, 0, len(blocks))

	var current *domain.Segment
	flush := func() {
		if current != nil && strings.TrimSpace(current.Text) != "" {
			current.Position = len(out)
			out = append(out, *current)
		}
		current = nil
	}

	for _, b := range blocks {
		for _, piece := range s.window(b.text) {
			if current != nil && s.canMerge(current, b, piece) {
				current.Text += "\n\n" + piece
				current.PageEnd = b.page
				continue
			}
			flush()
			current = &domain.Segment{
				Text:        piece,
				PageStart:   b.page,
				PageEnd:     b.page,
				HeadingPath: b.headings,
				Kind:        b.kind,
			}
		}
	}
	flush()
	return out
}

func (s *Segmenter) canMerge(current *domain.Segment, b block, piece string) bool {
	if current.Kind != b.kind || !sameHeadings(current.HeadingPath, b.headings) {
		return false
	}
	return len([]rune(current.Text))+len([]rune(piece))+2 <= s.ChunkSize
}

func (s *Segmenter) blocks(text string) []block {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	pages := strings.Split(text, PageBreak)
	paged := len(pages) > 1

	var (
		out      []block
		headings []string
	)
	for i, page := range pages {
		pageNo := 0
		if paged {
			pageNo = i + 1
		}
		for _, raw := range splitBlocks(page) {
			if level, title, ok := headingOf(raw); ok {
				headings = pushHeading(headings, level, title)
				continue
			}
			out = append(out, block{
				text:     raw,
				kind:     kindOf(raw),
				page:     pageNo,
				headings: headings,
			})
		}
	}
	return out
}

func splitBlocks(page string) []string {
	var (
		out     []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		// A heading line always stands alone.
		if _, _, ok := headingOf(line); ok {
			flush()
			out = append(out, line)
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}

// headingOf reports whether a block is a single heading line and its level.
func headingOf(raw string) (int, string, bool) {
	if strings.Contains(raw, "\n") {
		return 0, "", false
	}
	line := strings.TrimSpace(raw)
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return len(m[1]), strings.TrimSpace(m[2]), true
	}
	if len([]rune(line)) > 80 || strings.ContainsAny(line, "|\t") {
		return 0, "", false
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ";") || strings.HasSuffix(line, ",") {
		return 0, "", false
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, line, true
	}
	if isUpperTitle(line) {
		return 1, line, true
	}
	return 0, "", false
}

func isUpperTitle(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 4
}

func pushHeading(path []string, level int, title string) []string {
	if level < 1 {
		level = 1
	}
	if level-1 < len(path) {
		path = path[:level-1]
	}
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	return append(next, title)
}

func kindOf(raw string) domain.SegmentKind {
	lines := strings.Split(raw, "\n")
	tableLines, listLines := 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.Count(trimmed, "|") >= 2 || strings.Count(trimmed, "\t") >= 2 {
			tableLines++
		}
		if listItem.MatchString(strings.ToLower(trimmed)) {
			listLines++
		}
	}
	switch {
	case tableLines*2 > len(lines):
		return domain.SegmentTable
	case listLines > 0 && listLines*2 >= len(lines):
		return domain.SegmentList
	default:
		return domain.SegmentParagraph
	}
}

// window splits an oversized block into overlapping rune windows.
func (s *Segmenter) window(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.ChunkSize {
		return []string{strings.TrimSpace(text)}
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func sameHeadings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
