package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

func TestExtractPlainText(t *testing.T) {
	res, err := Extract(context.Background(), []byte("  hello\r\nworld\x00  "), models.DocumentTXT)
	require.NoError(t, err)
	require.Equal(t, "hello\nworld", res.Text)
	require.Nil(t, res.PageAt(0))
}

func TestExtractPlainTextLatin1Fallback(t *testing.T) {
	res, err := Extract(context.Background(), []byte{'c', 'a', 'f', 0xe9}, models.DocumentTXT)
	require.NoError(t, err)
	require.Equal(t, "café", res.Text)
}

func TestExtractEmptyText(t *testing.T) {
	_, err := Extract(context.Background(), []byte(" \n\t "), models.DocumentTXT)
	require.ErrorIs(t, err, util.ErrNoExtractableText)
	require.ErrorIs(t, err, util.ErrExtraction)
}

func TestExtractUnsupportedType(t *testing.T) {
	_, err := Extract(context.Background(), []byte("x"), models.DocumentType("rtf"))
	require.ErrorIs(t, err, util.ErrExtraction)
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := Extract(context.Background(), []byte("definitely not a pdf"), models.DocumentPDF)
	require.Error(t, err)
	require.True(t, errors.Is(err, util.ErrExtraction))
}

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocxParagraphs(t *testing.T) {
	data := buildDocx(t, `<w:p><w:r><w:t>First</w:t></w:r><w:r><w:t xml:space="preserve"> paragraph</w:t></w:r></w:p>`+
		`<w:p></w:p>`+
		`<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>cell</w:t></w:r></w:p>`)
	res, err := Extract(context.Background(), data, models.DocumentDOCX)
	require.NoError(t, err)
	require.Equal(t, "First paragraph\nSecond\tcell", res.Text)
}

func TestExtractDocxMissingBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract(context.Background(), buf.Bytes(), models.DocumentDOCX)
	require.ErrorIs(t, err, util.ErrExtraction)
}

func TestJoinPagesRecordsSpans(t *testing.T) {
	res := joinPages([]string{"alpha", "  ", "béta"})
	require.Equal(t, "alpha\n\nbéta", res.Text)
	require.Equal(t, []PageSpan{{Page: 1, Start: 0, End: 5}, {Page: 3, Start: 7, End: 11}}, res.Pages)
	require.Equal(t, 1, *res.PageAt(0))
	require.Equal(t, 1, *res.PageAt(6))
	require.Equal(t, 3, *res.PageAt(7))
	require.Equal(t, 3, *res.PageAt(50))
}
