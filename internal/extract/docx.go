package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"ragfolio/internal/util"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// extractDOCX reads word/document.xml and joins paragraphs with newlines.
func extractDOCX(data []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: open docx: %w", util.ErrExtraction, err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return Result{}, fmt.Errorf("%w: docx has no word/document.xml", util.ErrExtraction)
	}
	rc, err := doc.Open()
	if err != nil {
		return Result{}, fmt.Errorf("%w: open document.xml: %w", util.ErrExtraction, err)
	}
	defer rc.Close()

	paragraphs, err := paragraphs(rc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: parse document.xml: %w", util.ErrExtraction, err)
	}
	return Result{Text: util.SanitizeText(strings.Join(paragraphs, "\n"))}, nil
}

func paragraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		inPara bool
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inPara {
					if s := strings.TrimSpace(cur.String()); s != "" {
						out = append(out, s)
					}
				}
				inPara = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
