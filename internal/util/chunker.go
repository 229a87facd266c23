package util

import (
	"regexp"
	"strings"
)

// CharsPerToken approximates token counts from character counts.
const CharsPerToken = 4

type TextChunk struct {
	Text      string
	Index     int
	CharStart *int
	CharEnd   *int
	Page      *int
}

type ChunkOptions struct {
	// Size and Overlap are in tokens.
	Size      int
	Overlap   int
	Separator string
	Page      *int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: 1000, Overlap: 200, Separator: "\n\n"}
}

// ChunkText slides a window over text, preferring to cut after the last
// separator in the second half of the window. Each window starts overlap
// characters before the previous end, so the tail of the input is repeated
// once in a final overlap window. Offsets are rune positions.
func ChunkText(text string, opts ChunkOptions) []TextChunk {
	if opts.Size <= 0 {
		opts.Size = DefaultChunkOptions().Size
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	runes := []rune(text)
	n := len(runes)
	size := opts.Size * CharsPerToken
	overlap := opts.Overlap * CharsPerToken
	sep := []rune(opts.Separator)

	out := make([]TextChunk, 0)
	start := 0
	for start < n {
		end := start + size
		if end > n {
			end = n
		}
		window := runes[start:end]
		if end < n && len(sep) > 0 {
			if idx := lastIndexRunes(window, sep); idx > size/2 {
				window = window[:idx+len(sep)]
				end = start + len(window)
			}
		}
		part := strings.TrimSpace(string(window))
		if part != "" {
			cs, ce := start, end
			out = append(out, TextChunk{
				Text:      part,
				Index:     len(out),
				CharStart: &cs,
				CharEnd:   &ce,
				Page:      copyInt(opts.Page),
			})
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// ChunkSentences groups whole sentences up to the target size and carries
// trailing sentences that fit in the overlap budget into the next chunk.
func ChunkSentences(text string, opts ChunkOptions) []TextChunk {
	if opts.Size <= 0 {
		opts.Size = DefaultChunkOptions().Size
	}
	target := opts.Size * CharsPerToken
	budget := opts.Overlap * CharsPerToken

	out := make([]TextChunk, 0)
	emit := func(sentences []string) {
		out = append(out, TextChunk{
			Text:  strings.Join(sentences, " "),
			Index: len(out),
			Page:  copyInt(opts.Page),
		})
	}

	var current []string
	length := 0
	for _, s := range sentenceBoundary.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sl := len([]rune(s))
		if length+sl > target && len(current) > 0 {
			emit(current)
			var carry []string
			carried := 0
			for i := len(current) - 1; i >= 0; i-- {
				l := len([]rune(current[i]))
				if carried+l > budget {
					break
				}
				carry = append([]string{current[i]}, carry...)
				carried += l
			}
			current = carry
			length = carried
		}
		current = append(current, s)
		length += sl + 1
	}
	if len(current) > 0 {
		emit(current)
	}
	return out
}

func lastIndexRunes(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
