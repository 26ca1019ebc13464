package chunker

import (
	"regexp"
	"strings"
)

type Type string

const (
	TypeSummary   Type = "summary"
	TypeSection   Type = "section"
	TypeParagraph Type = "paragraph"
	TypeDetail    Type = "detail"
)

// Chunk is one ordered piece of a document plus its derived metadata.
type Chunk struct {
	Text            string
	Index           int
	Type            Type
	HierarchyLevel  int
	SectionTitle    string
	KeyTerms        []string
	SentenceCount   int
	WordCount       int
	SemanticDensity float64
	HasCode         bool
	HasTable        bool
	HasList         bool
	Language        string
}

type Config struct {
	MaxChunkSize int
	MinChunkSize int
	OverlapSize  int
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg}
}

// separators are tried in order: paragraph breaks first, then lines, then
// sentence-ending punctuation (latin and CJK), then words, then a hard cut.
var separators = []string{"\n\n", "\n", ". ", "。", "！", "？", "!", "?", " ", ""}

var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// normalize collapses whitespace noise while preserving paragraph and
// heading boundaries.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Chunk splits a document into sized pieces with overlap and metadata.
// Empty input yields zero chunks; input shorter than MinChunkSize yields
// exactly one chunk with no overlap applied.
func (c *Chunker) Chunk(text string) []Chunk {
	text = normalize(text)
	if text == "" {
		return nil
	}

	if len(text) < c.cfg.MinChunkSize {
		return c.annotate([]string{text}, text)
	}

	var pieces []string
	for _, sec := range splitSections(text) {
		ps := split(sec, separators, c.cfg.MaxChunkSize)
		pieces = append(pieces, c.mergeSmall(ps)...)
	}
	// Undersized header-only sections fold into their predecessor; the
	// lastHeader carry in annotate keeps section titles correct.
	pieces = c.mergeSmall(pieces)
	pieces = c.applyOverlap(pieces)
	return c.annotate(pieces, text)
}

// splitSections cuts the document at structural header lines so each
// header anchors its own section before size-based splitting.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current []string

	for i, line := range lines {
		next := ""
		if i+1 < len(lines) {
			next = lines[i+1]
		}
		if _, ok := headerLine(line, next); ok && len(current) > 0 && strings.TrimSpace(strings.Join(current, "\n")) != "" {
			sections = append(sections, strings.TrimSpace(strings.Join(current, "\n")))
			current = current[:0]
		}
		current = append(current, line)
	}
	if trimmed := strings.TrimSpace(strings.Join(current, "\n")); trimmed != "" {
		sections = append(sections, trimmed)
	}
	return sections
}

// split recursively divides text on the separator ladder, merging adjacent
// parts back together while they fit under maxSize.
func split(text string, seps []string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return hardSplit(text, maxSize)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return split(text, seps[1:], maxSize)
	}

	// Sentence punctuation stays attached to its sentence.
	glue := sep
	if sep != "\n\n" && sep != "\n" && sep != " " {
		for i := 0; i < len(parts)-1; i++ {
			parts[i] += strings.TrimSuffix(sep, " ")
		}
		glue = " "
		if !strings.HasSuffix(sep, " ") {
			glue = ""
		}
	}

	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if len(part) > maxSize {
			flush()
			out = append(out, split(part, seps[1:], maxSize)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(glue)+len(part) > maxSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(glue)
		}
		current.WriteString(part)
	}
	flush()
	return out
}

func hardSplit(text string, maxSize int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := len(runes)
		cut := n
		for cut > 0 && len(string(runes[:cut])) > maxSize {
			cut--
		}
		if cut == 0 {
			cut = 1
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return out
}

// mergeSmall folds pieces under MinChunkSize into their neighbor so no
// undersized chunk survives except a sole trailing one.
func (c *Chunker) mergeSmall(pieces []string) []string {
	if len(pieces) <= 1 {
		return pieces
	}

	var out []string
	for _, piece := range pieces {
		if len(out) > 0 && len(piece) < c.cfg.MinChunkSize {
			out[len(out)-1] = out[len(out)-1] + "\n" + piece
			continue
		}
		out = append(out, piece)
	}
	return out
}

// applyOverlap prepends the tail of each previous chunk to preserve
// context across boundaries.
func (c *Chunker) applyOverlap(pieces []string) []string {
	if c.cfg.OverlapSize <= 0 || len(pieces) <= 1 {
		return pieces
	}

	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := []rune(pieces[i-1])
		tail := prev
		for len(string(tail)) > c.cfg.OverlapSize {
			tail = tail[1:]
		}
		out[i] = strings.TrimSpace(string(tail)) + "\n" + pieces[i]
	}
	return out
}

// annotate computes per-chunk metadata and carries section titles forward
// through header-less chunks.
func (c *Chunker) annotate(pieces []string, doc string) []Chunk {
	title := documentTitle(doc)
	currentSection := title

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		header, hasHeader := firstHeader(piece)
		sectionTitle := currentSection
		if hasHeader {
			sectionTitle = header.title
		}
		if last, ok := lastHeader(piece); ok {
			currentSection = last.title
		}

		chunkType, level := classify(piece, hasHeader)
		if i == 0 && len(pieces) > 1 && title != "" && hasHeader && header.title == title {
			chunkType, level = TypeSummary, 0
		}

		tokens := tokenize(piece)
		chunks = append(chunks, Chunk{
			Text:            piece,
			Index:           i,
			Type:            chunkType,
			HierarchyLevel:  level,
			SectionTitle:    sectionTitle,
			KeyTerms:        keyTerms(tokens),
			SentenceCount:   sentenceCount(piece),
			WordCount:       len(tokens),
			SemanticDensity: semanticDensity(tokens),
			HasCode:         codeRe.MatchString(piece),
			HasTable:        tableRe.MatchString(piece),
			HasList:         listRe.MatchString(piece),
			Language:        detectLanguage(piece),
		})
	}
	return chunks
}
