package generation

import (
	"regexp"
	"strings"
)

type replacement struct {
	pattern *regexp.Regexp
	with    string
}

var softenings = []replacement{
	{regexp.MustCompile(`(?i)\bsex(ual|y)?\b`), "romantic"},
	{regexp.MustCompile(`(?i)\berotic\b`), "suggestive"},
	{regexp.MustCompile(`(?i)\bnud(e|ity)\b`), "artistic"},
	{regexp.MustCompile(`(?i)\borgy\b`), "gathering"},
	{regexp.MustCompile(`(?i)\bporn(ographic)?\b`), "explicit"},
	{regexp.MustCompile(`(?i)\bblood(y)?\b`), "intense"},
	{regexp.MustCompile(`(?i)\bgore(y)?\b`), "grim"},
	{regexp.MustCompile(`(?i)\bmaim(ed|ing)?\b`), "injure"},
	{regexp.MustCompile(`(?i)\bkill(ed|ing)?\b`), "defeat"},
	{regexp.MustCompile(`(?i)\bmurder(er|ous)?\b`), "villain"},
	{regexp.MustCompile(`(?i)\bassassinat(e|ion)\b`), "eliminate"},
	{regexp.MustCompile(`(?i)\bdrugs?\b`), "illicit trade"},
	{regexp.MustCompile(`(?i)\bintoxicated\b`), "dazed"},
	{regexp.MustCompile(`(?i)\bheroin\b`), "narcotic"},
	{regexp.MustCompile(`(?i)\bcocaine\b`), "stimulant"},
	{regexp.MustCompile(`(?i)\bmeth(amphetamine)?\b`), "chemical"},
	{regexp.MustCompile(`(?i)\bgun(s|fire)?\b`), "weapons"},
	{regexp.MustCompile(`(?i)\bshot(s|gun)?\b`), "blast"},
	{regexp.MustCompile(`(?i)\bexplosion\b`), "eruption"},
	{regexp.MustCompile(`(?i)\bdecapitat(e|ion)\b`), "defeat"},
	{regexp.MustCompile(`(?i)\bcorpse\b`), "figure"},
	{regexp.MustCompile(`(?i)\bsuicide\b`), "sacrifice"},
}

// SoftenPrompt swaps words image services tend to refuse for milder ones
// and collapses whitespace.
func SoftenPrompt(text string) string {
	for _, r := range softenings {
		text = r.pattern.ReplaceAllLiteralString(text, r.with)
	}
	return strings.Join(strings.Fields(text), " ")
}
