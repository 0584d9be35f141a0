package tools

import (
	"fmt"
	"strings"

	pdfx "github.com/ledongthuc/pdf"
)

// ReadPDF extracts the plain text of the first maxPages pages of the PDF at
// path. maxPages <= 0 reads every page.
func ReadPDF(path string, maxPages int) (string, error) {
	f, r, err := pdfx.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	total := r.NumPage()
	if maxPages <= 0 || maxPages > total {
		maxPages = total
	}
	var out strings.Builder
	for i := 1; i <= maxPages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf %s page %d: %w", path, i, err)
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}
