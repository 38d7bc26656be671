package extractor

import "strings"

// lineDenylist drops boilerplate lines (site banners, in-text ads) from
// extracted chapter text. A line is dropped when it contains any configured
// pattern.
type lineDenylist struct {
	patterns []string
}

func newLineDenylist(patterns []string) *lineDenylist {
	matcher := &lineDenylist{}
	for _, raw := range patterns {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		matcher.addPattern(value)
	}
	if len(matcher.patterns) == 0 {
		return nil
	}
	return matcher
}

func (d *lineDenylist) addPattern(pattern string) {
	for _, existing := range d.patterns {
		if existing == pattern {
			return
		}
	}
	d.patterns = append(d.patterns, pattern)
}

func (d *lineDenylist) Matches(line string) bool {
	if d == nil {
		return false
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, pattern := range d.patterns {
		if strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}
