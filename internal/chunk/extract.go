package chunk

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	maxConcepts = 8
	maxFiles    = 16
)

// filePattern matches path-like tokens with a short extension.
var filePattern = regexp.MustCompile(`(?:~?/)?(?:[A-Za-z0-9_.\-]+/)*[A-Za-z0-9_\-][A-Za-z0-9_.\-]*\.(?:go|py|ts|tsx|js|jsx|rs|java|kt|rb|c|h|cc|cpp|hpp|cs|swift|sql|sh|md|json|yaml|yml|toml|proto|html|css|jsonl)\b`)

// backtickPattern matches inline code spans.
var backtickPattern = regexp.MustCompile("`([^`\n]{2,60})`")

var conceptStopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "what": true, "when": true, "where": true, "which": true,
	"there": true, "their": true, "about": true, "would": true, "could": true,
	"should": true, "these": true, "those": true, "into": true, "then": true,
	"than": true, "them": true, "they": true, "been": true, "were": true,
	"does": true, "doesn": true, "just": true, "like": true, "also": true,
	"user": true, "assistant": true, "result": true, "tool": true, "here": true,
	"need": true, "let": true, "make": true, "sure": true, "file": true,
}

// Annotate returns the concepts and file paths mentioned in free text, the
// same metadata a transcript chunk carries.
func Annotate(text string) (concepts, files []string) {
	return extractConcepts(text), extractFiles(text)
}

func extractFiles(text string) []string {
	return filePattern.FindAllString(text, maxFiles)
}

func mergeFiles(a, b []string) []string {
	var s orderedSet
	for _, f := range a {
		s.add(f)
	}
	for _, f := range b {
		s.add(f)
	}
	if len(s.items) > maxFiles {
		return s.items[:maxFiles]
	}
	return s.items
}

// extractConcepts picks identifiers and frequent words. Inline code spans
// rank first, then identifiers with internal capitals or underscores, then
// plain words by frequency.
func extractConcepts(text string) []string {
	type scored struct {
		term  string
		score int
		first int
	}
	terms := make(map[string]*scored)
	order := 0
	bump := func(term string, weight int) {
		term = strings.Trim(term, ".,:;()[]{}\"'")
		if len(term) < 4 || len(term) > 60 {
			return
		}
		key := strings.ToLower(term)
		if conceptStopWords[key] {
			return
		}
		if s, ok := terms[key]; ok {
			s.score += weight
			return
		}
		terms[key] = &scored{term: term, score: weight, first: order}
		order++
	}

	for _, m := range backtickPattern.FindAllStringSubmatch(text, -1) {
		bump(m[1], 5)
	}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		if filePattern.MatchString(word) {
			continue
		}
		switch {
		case isIdentifier(word):
			bump(word, 3)
		case allLetters(word):
			bump(strings.ToLower(word), 1)
		}
	}

	list := make([]*scored, 0, len(terms))
	for _, s := range terms {
		if s.score >= 2 {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].first < list[j].first
	})

	out := make([]string, 0, min(len(list), maxConcepts))
	for _, s := range list {
		if len(out) == maxConcepts {
			break
		}
		out = append(out, s.term)
	}
	return out
}

// isIdentifier reports camelCase, PascalCase with an inner capital, or
// snake_case words.
func isIdentifier(w string) bool {
	if strings.Contains(strings.Trim(w, "_"), "_") {
		return true
	}
	runes := []rune(w)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
			return true
		}
	}
	return false
}

func allLetters(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
