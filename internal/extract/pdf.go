package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"ragfolio/internal/util"
)

func extractPDF(data []byte) (res Result, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: corrupt pdf: %v", util.ErrExtraction, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: open pdf: %w", util.ErrExtraction, err)
	}
	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("%w: read pdf page %d: %w", util.ErrExtraction, i, err)
		}
		pages = append(pages, text)
	}
	return joinPages(pages), nil
}
