package chunker

import (
	"regexp"
	"strings"
)

// Document structure detection: markdown headers, setext-style underlined
// headers, ALL-CAPS headings, and numbered section titles. The outline is
// used to assign section titles to chunks.

var (
	markdownHeaderRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	underlineRe      = regexp.MustCompile(`^(=+|-+)\s*$`)
	numberedRe       = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S.*$`)
	allCapsRe        = regexp.MustCompile(`^[A-Z][A-Z0-9 ,:&'-]{3,59}$`)
)

type section struct {
	title string
	level int
}

// headerLine reports whether line (with its successor, for underlined
// headers) is a structural header, and returns its title and level.
func headerLine(line, next string) (section, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return section{}, false
	}

	if m := markdownHeaderRe.FindStringSubmatch(line); m != nil {
		return section{title: m[2], level: len(m[1])}, true
	}

	if underlineRe.MatchString(strings.TrimSpace(next)) && len(strings.TrimSpace(next)) >= 3 &&
		!underlineRe.MatchString(line) && len(line) <= 80 {
		level := 1
		if strings.HasPrefix(strings.TrimSpace(next), "-") {
			level = 2
		}
		return section{title: line, level: level}, true
	}

	if allCapsRe.MatchString(line) && strings.ContainsAny(line, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return section{title: line, level: 1}, true
	}

	// Consecutive numbered lines are a list, not section headers.
	if numberedRe.MatchString(line) && len(line) <= 80 && !strings.HasSuffix(line, ".") &&
		!numberedRe.MatchString(strings.TrimSpace(next)) {
		return section{title: line, level: 2}, true
	}

	return section{}, false
}

// firstHeader scans a chunk of text for its first structural header.
func firstHeader(text string) (section, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if s, ok := headerLine(line, next); ok {
			return s, true
		}
	}
	return section{}, false
}

// lastHeader returns the final structural header in a chunk, used to carry
// the active section title forward into header-less chunks.
func lastHeader(text string) (section, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if s, ok := headerLine(lines[i], next); ok {
			return s, true
		}
	}
	return section{}, false
}

// documentTitle returns the first header of the whole document, if any.
func documentTitle(text string) string {
	if s, ok := firstHeader(text); ok {
		return s.title
	}
	return ""
}

const wordsPerMinute = 200

// Section is one outline entry with its line bounds in the normalized
// document.
type Section struct {
	Title     string `json:"title"`
	Level     int    `json:"level"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// DocumentStructure is the analyzed outline of a document: its title,
// every structural header with line bounds, and an estimated reading time.
type DocumentStructure struct {
	Title              string    `json:"title,omitempty"`
	Sections           []Section `json:"sections"`
	HasTableOfContents bool      `json:"has_table_of_contents"`
	ReadingTimeMinutes int       `json:"reading_time_minutes"`
}

// AnalyzeStructure builds the document outline. Reading time assumes
// 200 words per minute, rounded up.
func AnalyzeStructure(text string) DocumentStructure {
	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return DocumentStructure{}
	}

	lines := strings.Split(text, "\n")
	var sections []Section
	for i, line := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if s, ok := headerLine(line, next); ok {
			sections = append(sections, Section{Title: s.title, Level: s.level, StartLine: i})
		}
	}
	for i := range sections {
		if i+1 < len(sections) {
			sections[i].EndLine = sections[i+1].StartLine - 1
		} else {
			sections[i].EndLine = len(lines) - 1
		}
	}

	words := len(strings.Fields(text))
	ds := DocumentStructure{
		Title:              documentTitle(text),
		Sections:           sections,
		HasTableOfContents: len(sections) > 3,
		ReadingTimeMinutes: (words + wordsPerMinute - 1) / wordsPerMinute,
	}
	return ds
}
