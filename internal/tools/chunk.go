package tools

import "strings"

// splitChunks cuts s into windows of at most size bytes where consecutive
// windows share overlap bytes. Cut points are moved back to the nearest
// whitespace when one exists in the second half of the window.
func splitChunks(s string, size, overlap int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []string
	for start := 0; start < len(s); {
		end := start + size
		if end >= len(s) {
			end = len(s)
		} else if cut := strings.LastIndexAny(s[start+size/2:end], " \n\t"); cut != -1 {
			end = start + size/2 + cut
		}
		if end <= start {
			end = min(start+size, len(s))
		}
		if part := strings.TrimSpace(s[start:end]); part != "" {
			out = append(out, part)
		}
		if end == len(s) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
