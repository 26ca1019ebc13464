package chunker

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// englishStopwords and chineseStopwords back the semantic density and key
// term extraction. Density is the fraction of tokens carrying meaning.
var englishStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "over": true, "after": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "as": true,
	"if": true, "then": true, "than": true, "so": true, "not": true,
	"no": true, "yes": true, "you": true, "your": true, "we": true,
	"our": true, "they": true, "their": true, "he": true, "she": true,
	"his": true, "her": true, "what": true, "which": true, "who": true,
	"when": true, "where": true, "why": true, "how": true, "all": true,
	"each": true, "more": true, "most": true, "other": true, "some": true,
	"such": true, "only": true, "own": true, "same": true, "very": true,
	"just": true, "also": true, "there": true, "here": true,
}

var chineseStopwords = map[string]bool{
	"的": true, "了": true, "在": true, "是": true, "我": true, "有": true,
	"和": true, "就": true, "不": true, "人": true, "都": true, "一": true,
	"一个": true, "上": true, "也": true, "很": true, "到": true, "说": true,
	"要": true, "去": true, "你": true, "会": true, "着": true, "没有": true,
	"看": true, "好": true, "自己": true, "这": true, "那": true, "他": true,
	"她": true, "它": true, "们": true, "与": true, "及": true, "或": true,
}

var (
	tokenRe = regexp.MustCompile(`[a-zA-Z0-9]+|\p{Han}`)

	codeRe     = regexp.MustCompile("```|\\bfunc\\s|\\bfunction\\s|=>|\\bconst\\s|\\bclass\\s|\\bimport\\s|\\bdef\\s|\\breturn\\b")
	tableRe    = regexp.MustCompile(`(?m)^\s*\|.+\|\s*$`)
	listRe     = regexp.MustCompile(`(?m)^\s*([-*+•]|\d+[.)])\s+\S`)
	sentenceRe = regexp.MustCompile(`[.!?。！？]+`)
)

const (
	detailThreshold  = 200
	sectionThreshold = 800
	maxKeyTerms      = 10
	cjkLanguageRatio = 0.3
)

func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

func isStopword(token string) bool {
	return englishStopwords[token] || chineseStopwords[token]
}

// semanticDensity is the fraction of non-stopword tokens.
func semanticDensity(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	meaningful := 0
	for _, tok := range tokens {
		if !isStopword(tok) {
			meaningful++
		}
	}
	return float64(meaningful) / float64(len(tokens))
}

// keyTerms returns the top tokens by frequency after stopword removal.
// Single-letter latin tokens are too noisy to keep.
func keyTerms(tokens []string) []string {
	freq := make(map[string]int)
	for _, tok := range tokens {
		if isStopword(tok) {
			continue
		}
		if len(tok) < 2 && tok[0] < 0x80 {
			continue
		}
		freq[tok]++
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > maxKeyTerms {
		terms = terms[:maxKeyTerms]
	}
	return terms
}

func sentenceCount(text string) int {
	n := len(sentenceRe.FindAllString(text, -1))
	if n == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return n
}

// detectLanguage returns "zh" when the CJK share of letter runes crosses
// the threshold, "en" otherwise.
func detectLanguage(text string) string {
	letters, cjk := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.Is(unicode.Han, r) {
				cjk++
			}
		}
	}
	if letters > 0 && float64(cjk)/float64(letters) > cjkLanguageRatio {
		return "zh"
	}
	return "en"
}

// classify derives chunk type and hierarchy level from structure and size.
func classify(text string, hasHeader bool) (Type, int) {
	switch {
	case hasHeader:
		return TypeSection, 1
	case len(text) < detailThreshold:
		return TypeDetail, 3
	case len(text) > sectionThreshold:
		return TypeSection, 1
	default:
		return TypeParagraph, 2
	}
}
