package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// extractor pulls plain text out of uploaded files.
type extractor struct {
	// pdftotext binary; empty means look it up on PATH.
	pdftotext string
}

func (e *extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return e.extractPDF(ctx, data)
	default:
		text := normalizeTextPreserveNewlines(string(data))
		if text == "" {
			return "", ErrNoText
		}
		return text, nil
	}
}

func (e *extractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	// pdftotext handles more encodings than the Go reader
	text, err := e.extractPDFWithPdftotext(ctx, data)
	if err == nil && text != "" {
		return text, nil
	}
	return extractPDFWithGoLib(data)
}

// extractPDFWithPdftotext uses the poppler-utils pdftotext tool when present.
func (e *extractor) extractPDFWithPdftotext(ctx context.Context, data []byte) (string, error) {
	bin := e.pdftotext
	if bin == "" {
		bin = "pdftotext"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	tmp, err := os.CreateTemp("", "indexer-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	cmd := exec.CommandContext(ctx, path, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	// pdftotext separates pages with form feeds
	text := strings.ReplaceAll(string(output), "\f", "\n\n")
	return normalizeTextPreserveNewlines(text), nil
}

func extractPDFWithGoLib(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages
			continue
		}
		if text = normalizeTextPreserveNewlines(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n\n"), nil
}

// normalizeTextPreserveNewlines cleans extracted text while keeping line and
// paragraph breaks, which the splitter uses as separators.
func normalizeTextPreserveNewlines(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\uFEFF', '\u200B', '\u200C', '\u200D', '\u2060', '\u00AD':
			return -1
		case '\u00A0', '\x00', '\t':
			return ' '
		case '\n':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			continue
		}
		if len(out) > 0 && blank > 0 {
			out = append(out, "")
		}
		blank = 0
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
