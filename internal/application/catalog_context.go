package application

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bnema/venue-concierge/internal/domain"
)

const maxItemsPerSegment = 12

var segmentKeywords = map[string]domain.SegmentKey{
	"bourbon":    "spirits",
	"whiskey":    "spirits",
	"whisky":     "spirits",
	"rye":        "spirits",
	"scotch":     "spirits",
	"tequila":    "spirits",
	"mezcal":     "spirits",
	"rum":        "spirits",
	"gin":        "spirits",
	"vodka":      "spirits",
	"cognac":     "spirits",
	"spirit":     "spirits",
	"spirits":    "spirits",
	"neat":       "spirits",
	"wine":       "wine",
	"red":        "wine",
	"white":      "wine",
	"rose":       "wine",
	"champagne":  "wine",
	"prosecco":   "wine",
	"cabernet":   "wine",
	"pinot":      "wine",
	"chardonnay": "wine",
	"beer":       "beer",
	"ipa":        "beer",
	"lager":      "beer",
	"stout":      "beer",
	"pilsner":    "beer",
	"ale":        "beer",
	"cocktail":   "cocktails",
	"cocktails":  "cocktails",
	"martini":    "cocktails",
	"negroni":    "cocktails",
	"margarita":  "cocktails",
	"mojito":     "cocktails",
	"spritz":     "cocktails",
}

// segmentsOnlyKeywords select a segment without narrowing the items in it.
var segmentsOnlyKeywords = map[string]struct{}{
	"spirit": {}, "spirits": {}, "wine": {}, "beer": {}, "cocktail": {}, "cocktails": {}, "neat": {},
}

// contextQuery is the result of matching a guest message against the
// keyword table: which segments to load and, per segment, which words
// narrow the items.
type contextQuery struct {
	segments []domain.SegmentKey
	narrow   map[domain.SegmentKey][]string
}

func buildContextQuery(text string, defaults []domain.SegmentKey) contextQuery {
	query := contextQuery{narrow: map[domain.SegmentKey][]string{}}
	seen := map[domain.SegmentKey]bool{}

	for _, word := range tokenize(text) {
		key, ok := segmentKeywords[word]
		if !ok {
			continue
		}
		if !seen[key] {
			seen[key] = true
			query.segments = append(query.segments, key)
		}
		if _, broad := segmentsOnlyKeywords[word]; !broad {
			query.narrow[key] = append(query.narrow[key], word)
		}
	}

	if len(query.segments) == 0 {
		query.segments = append(query.segments, defaults...)
	}
	return query
}

// narrowItems keeps available items matching any keyword. Without keywords,
// or when nothing matches, the segment is kept whole. The result is capped.
func narrowItems(items []domain.CatalogItem, keywords []string) []domain.CatalogItem {
	available := make([]domain.CatalogItem, 0, len(items))
	for _, item := range items {
		if item.Available {
			available = append(available, item)
		}
	}

	selected := available
	if len(keywords) > 0 {
		matched := make([]domain.CatalogItem, 0, len(available))
		for _, item := range available {
			if item.Matches(keywords) {
				matched = append(matched, item)
			}
		}
		if len(matched) > 0 {
			selected = matched
		}
	}

	if len(selected) > maxItemsPerSegment {
		selected = selected[:maxItemsPerSegment]
	}
	return selected
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type segmentContext struct {
	key   domain.SegmentKey
	items []domain.CatalogItem
}

func buildPrompt(persona string, sections []segmentContext, message string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}

	b.WriteString("MENU CONTEXT\n")
	empty := true
	for _, section := range sections {
		if len(section.items) == 0 {
			continue
		}
		empty = false
		fmt.Fprintf(&b, "[%s]\n", section.key)
		for _, item := range section.items {
			b.WriteString(formatItemLine(item))
			b.WriteByte('\n')
		}
	}
	if empty {
		b.WriteString("(no matching items on the menu right now)\n")
	}

	b.WriteString("\nGUEST MESSAGE\n")
	b.WriteString(strings.TrimSpace(message))
	return b.String()
}

func formatItemLine(item domain.CatalogItem) string {
	line := fmt.Sprintf("- %s (%s) $%.2f", item.Name, item.Category, item.Price)
	if item.Restricted() {
		line += " [available on request; requires owner approval]"
	}
	return line
}
