package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is a loaded text source.
type Document struct {
	Source string
	Text   string
}

// LoaderOptions bounds what LoadDocument reads.
type LoaderOptions struct {
	MaxBytes    int64
	MaxPDFPages int
}

// LoadDocument reads source into plain text. Sources starting with http:// or
// https:// are fetched; other sources are local paths. PDF and HTML inputs
// are converted to text, anything else is read as is.
func LoadDocument(ctx context.Context, source string, opts LoaderOptions) (Document, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Document{}, fmt.Errorf("empty document source")
	}
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		body, ctype, err := FetchURL(ctx, source, opts.MaxBytes)
		if err != nil {
			return Document{}, err
		}
		return toDocument(source, body, strings.Contains(ctype, "html") || looksLikeHTML(body))
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(source), "."))
	if ext == "pdf" {
		txt, err := ReadPDF(source, opts.MaxPDFPages)
		if err != nil {
			return Document{}, err
		}
		return Document{Source: source, Text: txt}, nil
	}
	info, err := os.Stat(source)
	if err != nil {
		return Document{}, fmt.Errorf("stat %s: %w", source, err)
	}
	if opts.MaxBytes > 0 && info.Size() > opts.MaxBytes {
		return Document{}, fmt.Errorf("file too large: %s is %d bytes > limit %d", source, info.Size(), opts.MaxBytes)
	}
	b, err := os.ReadFile(source)
	if err != nil {
		return Document{}, err
	}
	body := string(b)
	if strings.HasPrefix(body, "%PDF-") {
		return Document{}, fmt.Errorf("%s is a PDF without a .pdf extension", source)
	}
	return toDocument(source, body, ext == "html" || ext == "htm" || looksLikeHTML(body))
}

func toDocument(source, body string, isHTML bool) (Document, error) {
	if !isHTML {
		return Document{Source: source, Text: strings.TrimSpace(body)}, nil
	}
	txt, err := ExtractHTMLText(body)
	if err != nil {
		return Document{}, fmt.Errorf("parse html %s: %w", source, err)
	}
	return Document{Source: source, Text: txt}, nil
}

func looksLikeHTML(s string) bool {
	if len(s) > 4096 {
		s = s[:4096]
	}
	s = strings.ToLower(s)
	return strings.Contains(s, "<html") || strings.Contains(s, "<body")
}
