package processing

import (
	"regexp"
	"sync"
)

// inflections a keyword may carry and still count as the same word
const inflections = `(?:s|es|d|ed|ing|ers?|ors?|ments?)?`

var termPatterns sync.Map // term -> *regexp.Regexp

// termPattern matches term as a whole word or phrase in lowercase text,
// so "down" does not fire on "download"
func termPattern(term string) *regexp.Regexp {
	if re, ok := termPatterns.Load(term); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + inflections + `\b`)
	actual, _ := termPatterns.LoadOrStore(term, re)
	return actual.(*regexp.Regexp)
}

// containsTerm reports whether lowercase text contains term as a word
func containsTerm(lower, term string) bool {
	return termPattern(term).MatchString(lower)
}

// countTerm returns how many times term occurs as a word in lowercase text
func countTerm(lower, term string) int {
	return len(termPattern(term).FindAllStringIndex(lower, -1))
}
