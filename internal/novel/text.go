package novel

import "strings"

// CleanText is the canonical prose normalization: every line is trimmed,
// blank lines are dropped, and the survivors are joined with a blank line so
// each becomes one paragraph. All text crossing a component boundary is in
// this form.
func CleanText(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n\n")
}

// SplitParagraphs splits clean text back into paragraphs on blank-line
// boundaries. Pieces that trim to nothing are dropped, so runs of blank lines
// do not produce empty paragraphs. Text without any blank line comes back as
// a single paragraph.
func SplitParagraphs(text string) []string {
	pieces := strings.Split(text, "\n\n")
	paras := make([]string, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paras = append(paras, p)
	}
	return paras
}
