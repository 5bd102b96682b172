package generation

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"storypool/internal/chaos"
)

var styleAuthors = []string{
	"Franz Kafka", "Jorge Luis Borges", "Italo Calvino", "Gabriel García Márquez",
	"Kurt Vonnegut", "Philip K. Dick", "Ursula K. Le Guin", "Stanisław Lem",
	"Samuel Beckett", "Virginia Woolf", "James Joyce", "William S. Burroughs",
	"Haruki Murakami", "Octavia Butler", "Ray Bradbury", "Isaac Asimov",
	"J.G. Ballard", "William Gibson", "Margaret Atwood", "Aldous Huxley",
	"George Orwell", "Arthur C. Clarke", "Doris Lessing", "Thomas Pynchon",
	"Don DeLillo", "Chinua Achebe", "Toni Morrison", "Salman Rushdie",
	"Milan Kundera", "Cormac McCarthy", "Vladimir Nabokov",
}

var contentAxisLabels = map[string]string{
	"sexual_content":         "Sexual content/intimacy",
	"violence":               "Violence/combat intensity",
	"strong_language":        "Strong language/profanity",
	"drug_use":               "Drug and substance use",
	"horror_suspense":        "Horror and suspense",
	"gore_graphic_imagery":   "Gore and graphic imagery",
	"romance_focus":          "Romantic relationship focus",
	"crime_illicit_activity": "Crime and illicit activity",
	"political_ideology":     "Political or ideological themes",
	"supernatural_occult":    "Supernatural or occult elements",
}

// PickStyleAuthors draws one to three distinct authors whose styles a new
// story blends.
func PickStyleAuthors(rng *rand.Rand) []string {
	n := 1 + rng.IntN(3)
	perm := rng.Perm(len(styleAuthors))
	out := make([]string, 0, n)
	for _, i := range perm[:n] {
		out = append(out, styleAuthors[i])
	}
	return out
}

func joinAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0]
	}
	return strings.Join(authors[:len(authors)-1], ", ") + ", and " + authors[len(authors)-1]
}

func axisLabel(axis string) string {
	if label, ok := contentAxisLabels[axis]; ok {
		return label
	}
	return strings.ReplaceAll(axis, "_", " ")
}

// orderedAxes lists the known content axes first, then any extra keys in the
// order given.
func orderedAxes[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for _, axis := range chaos.ContentAxes {
		if _, ok := m[axis]; ok {
			out = append(out, axis)
		}
	}
	for axis := range m {
		if _, known := contentAxisLabels[axis]; !known {
			out = append(out, axis)
		}
	}
	return out
}

func momentumDescription(m float64) string {
	switch {
	case m > 0.35:
		return "strong upward momentum (intensifies each chapter)"
	case m > 0.1:
		return "slight upward momentum"
	case m < -0.35:
		return "strong downward momentum (softens each chapter)"
	case m < -0.1:
		return "slight downward momentum"
	}
	return "steady intensity"
}

func momentumShort(m float64) string {
	switch {
	case m > 0.2:
		return "intensifying"
	case m > 0.05:
		return "rising"
	case m < -0.2:
		return "diminishing"
	case m < -0.05:
		return "softening"
	}
	return "steady"
}

func intensityDescriptor(level float64) string {
	switch {
	case level >= 8.5:
		return "extreme"
	case level >= 6.5:
		return "high"
	case level >= 4.5:
		return "moderate"
	case level >= 2.5:
		return "low"
	}
	return "minimal"
}

func contentSettingLines(settings map[string]chaos.ContentSetting) string {
	var b strings.Builder
	for _, axis := range orderedAxes(settings) {
		s := settings[axis]
		fmt.Fprintf(&b, "- %s: target average %.1f/10, %s\n", axisLabel(axis), s.AverageLevel, momentumDescription(s.Momentum))
	}
	return b.String()
}
