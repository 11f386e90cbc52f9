package templates

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"
)

// Funcs returns the helper functions available to every prompt template
func Funcs() template.FuncMap {
	return template.FuncMap{
		"join":     strings.Join,
		"percent":  Percent,
		"truncate": Truncate,
		"quote":    Quote,
		"clean":    Clean,
		"signed":   Signed,
	}
}

// Percent formats a [0,1] share as a whole percentage
func Percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

// Signed formats a score with an explicit sign
func Signed(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}

// Truncate shortens text to at most n runes, appending an ellipsis when cut
func Truncate(n int, text string) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// Quote renders text as a JSON string literal so user content cannot break
// the prompt structure
func Quote(text string) string {
	b, err := json.Marshal(Clean(text))
	if err != nil {
		return `""`
	}
	return string(b)
}

// Clean drops invalid UTF-8 and collapses whitespace runs to single spaces
func Clean(text string) string {
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}
