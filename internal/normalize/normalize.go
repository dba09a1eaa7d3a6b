// Package normalize canonicalizes catalog and query text so that the
// lexical and semantic indexes see the exact same token stream.
//
// The same function runs at indexing time and at query time. It is pure
// and idempotent: Normalize(Normalize(s)) == Normalize(s).
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// substitution is one whole-word rewrite applied during normalization.
// Later entries see the output of earlier ones.
type substitution struct {
	pattern *regexp.Regexp
	repl    string
}

// Domain abbreviations common in construction-service catalogs.
// Patterns match the already lower-cased, diacritic-stripped text.
var substitutions = []substitution{
	{regexp.MustCompile(`\b(m2|m²)\b`), " metro_quadrado "},
	{regexp.MustCompile(`\b(m3|m³)\b`), " metro_cubico "},
	{regexp.MustCompile(`\b(pol|polegadas|")\b`), " polegada "},
	{regexp.MustCompile(`ø`), " diametro "},
	{regexp.MustCompile(`\bconc\b`), "concreto"},
	{regexp.MustCompile(`\barm\b`), "armado"},
	{regexp.MustCompile(`\best\b`), "estrutural"},
	{regexp.MustCompile(`\bgalv\b`), "galvanizado"},
	{regexp.MustCompile(`\bexec\b`), "execucao"},
	{regexp.MustCompile(`\bfornec\b`), "fornecimento"},
	{regexp.MustCompile(`\binst\b`), "instalacao"},
	{regexp.MustCompile(`\bdiam\b`), "diametro"},
	{regexp.MustCompile(`\b(mm2|mm²)\b`), "mm2"},
}

// dropPattern matches every character not allowed in normalized output.
// Dots and commas survive so decimal dimensions ("fck=30", "10,5cm")
// stay searchable.
var dropPattern = regexp.MustCompile(`[^a-z0-9_., ]`)

// stripMarks removes combining marks after NFD decomposition, which
// turns "ç" into "c" and "ã" into "a".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes text for indexing and querying.
// Empty or whitespace-only input returns the empty string.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(text)

	if stripped, _, err := transform.String(stripMarks, text); err == nil {
		text = stripped
	}

	for _, sub := range substitutions {
		text = sub.pattern.ReplaceAllString(text, sub.repl)
	}

	text = dropPattern.ReplaceAllString(text, " ")

	return strings.Join(strings.Fields(text), " ")
}

// Tokens splits normalized text into whitespace tokens. The input is
// normalized first, so callers can pass raw query text.
func Tokens(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, " ")
}
