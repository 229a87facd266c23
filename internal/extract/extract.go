// Package extract turns uploaded document bytes into sanitized plain text.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

// PageSpan locates one page in Result.Text. Start and End are rune offsets.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

type Result struct {
	Text  string
	Pages []PageSpan
}

// PageAt returns the page containing rune offset, or nil when the text has
// no page structure. Offsets in the gap between pages belong to the earlier
// page.
func (r Result) PageAt(offset int) *int {
	var found *int
	for _, p := range r.Pages {
		if offset < p.Start {
			break
		}
		n := p.Page
		found = &n
	}
	return found
}

// Extract dispatches on the document type. Every failure wraps
// util.ErrExtraction.
func Extract(ctx context.Context, data []byte, docType models.DocumentType) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var (
		res Result
		err error
	)
	switch docType {
	case models.DocumentTXT:
		res = Result{Text: util.SanitizeText(decodeText(data))}
	case models.DocumentPDF:
		res, err = extractPDF(data)
	case models.DocumentDOCX:
		res, err = extractDOCX(data)
	default:
		return Result{}, fmt.Errorf("%w: unsupported type %q", util.ErrExtraction, docType)
	}
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, util.ErrNoExtractableText
	}
	return res, nil
}

// decodeText reads UTF-8 and falls back to Latin-1, which accepts any byte.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(out)
}

// joinPages sanitizes pages, drops empty ones, and joins the rest with a
// blank line while recording where each page lands.
func joinPages(pages []string) Result {
	var (
		b     strings.Builder
		spans []PageSpan
		pos   int
	)
	for i, raw := range pages {
		text := util.SanitizeText(raw)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
			pos += 2
		}
		n := utf8.RuneCountInString(text)
		spans = append(spans, PageSpan{Page: i + 1, Start: pos, End: pos + n})
		b.WriteString(text)
		pos += n
	}
	return Result{Text: b.String(), Pages: spans}
}
