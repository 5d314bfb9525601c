package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing
// whitespace and dashes.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.Trim(fileNameReplacer.Replace(name), "- ")
}

var (
	wrappingQuotes   = regexp.MustCompile(`^"(.+)"$`)
	wrappingStars    = regexp.MustCompile(`^\*(.+)\*$`)
	trailingParens   = regexp.MustCompile(`\s*\([^)]*\)$`)
	continuedSuffix  = regexp.MustCompile(`(?i)\s+\(?continued\)?$`)
	trailingDash     = regexp.MustCompile(`\s+-\s*$`)
	bareDiscHeading  = regexp.MustCompile(`(?i)^dis[kc]\s+\d+\W*$`)
	collapseSpacing  = regexp.MustCompile(`\s{2,}`)
	titleCaser       = cases.Title(language.Und, cases.NoLower)
)

// CleanMarkerLabel normalizes a chapter name as delivered in OverDrive marker
// metadata. Wrapping quotes and asterisks, sub-chapter counters like
// "(03/05)", "continued" suffixes, dangling dashes, and bare disc headings
// are stripped. Returns "" when nothing usable remains.
func CleanMarkerLabel(name string) string {
	name = strings.TrimSpace(name)
	name = wrappingQuotes.ReplaceAllString(name, "$1")
	name = wrappingStars.ReplaceAllString(name, "$1")
	name = trailingParens.ReplaceAllString(name, "")
	name = continuedSuffix.ReplaceAllString(name, "")
	name = trailingDash.ReplaceAllString(name, "")
	if bareDiscHeading.MatchString(name) {
		return ""
	}
	name = collapseSpacing.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// TitleCase uppercases the first letter of each word without lowering
// existing capitals, for synthesized labels like "part three".
func TitleCase(value string) string {
	return titleCaser.String(strings.TrimSpace(value))
}
