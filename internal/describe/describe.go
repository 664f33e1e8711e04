// Package describe renders the human-readable parts of a ticket from a
// resolved classification: the description body, the title and a short list
// of content keywords.
//
// Everything here is deterministic template assembly. Nothing is generated.
package describe

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/MrWong99/voxdesk/internal/classify"
	"github.com/MrWong99/voxdesk/internal/lexicon"
)

const (
	// MaxTitleRunes caps the length of any title.
	MaxTitleRunes = 100

	// FallbackTitle is used when no category is known.
	FallbackTitle = "Voice Complaint - Manual Review Required"

	// MaxKeywords caps the output of Keywords.
	MaxKeywords = 10

	minTitleRunes   = 6
	minKeywordRunes = 3
)

// Input is everything Format needs.
type Input struct {
	Original       string
	Translation    string
	Classification classify.Classification
	KeyPoints      []string
	Lexicon        *lexicon.Lexicon
}

// Format assembles the ticket description. Sections without data are
// omitted, except "Key Issues Identified" which always states the outcome.
func Format(in Input) string {
	var b strings.Builder
	c := in.Classification

	section(&b, "Original Complaint")
	b.WriteString(strings.TrimSpace(in.Original))
	b.WriteString("\n")

	if tr := strings.TrimSpace(in.Translation); tr != "" {
		b.WriteString("\n")
		section(&b, "English Translation")
		b.WriteString(tr)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	section(&b, "Classification")
	fmt.Fprintf(&b, "- Category: %s (%s)\n", categoryLabel(in.Lexicon, c.Category), c.Sources.Category)
	fmt.Fprintf(&b, "- Subcategory: %s (%s)\n", c.Subcategory, c.Sources.Subcategory)
	fmt.Fprintf(&b, "- Priority: %s (%s)\n", priorityLabel(in.Lexicon, c.Priority), c.Sources.Priority)
	fmt.Fprintf(&b, "- Product: %s (%s)\n", productLabel(in.Lexicon, c.Product), c.Sources.Product)

	if terms := c.Terms(); len(terms) > 0 {
		b.WriteString("\n")
		section(&b, "Matched Keywords")
		bullets(&b, terms)
	}

	b.WriteString("\n")
	section(&b, "Key Issues Identified")
	if points := nonEmpty(in.KeyPoints); len(points) > 0 {
		bullets(&b, points)
	} else {
		b.WriteString("No specific issues identified.\n")
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Customer Sentiment: %s\n", sentimentLabel(c.Sentiment))

	if c.Degraded() {
		fmt.Fprintf(&b, "\nNote: AI analysis unavailable (%s); manual review recommended.\n", c.AIStatus)
	}
	return b.String()
}

// Title returns the AI-suggested title when it is long enough to be useful,
// otherwise one built from the category and product labels.
func Title(signalTitle string, c classify.Classification, lex *lexicon.Lexicon) string {
	if t := strings.TrimSpace(signalTitle); utf8.RuneCountInString(t) >= minTitleRunes {
		return truncate(t, MaxTitleRunes)
	}
	if c.Category == "" {
		return FallbackTitle
	}
	return truncate(categoryLabel(lex, c.Category)+" - "+productLabel(lex, c.Product), MaxTitleRunes)
}

var stopwords = func() map[string]bool {
	m := make(map[string]bool)
	for _, w := range []string{"এর", "এবং", "বা", "যে", "যা", "এক", "একটি", "দিয়ে", "থেকে", "এই", "সেই"} {
		m[norm.NFC.String(w)] = true
	}
	return m
}()

// Keywords extracts up to MaxKeywords distinct Bengali words of at least
// three runes from text, in order of first occurrence, skipping stopwords.
func Keywords(text string) []string {
	words := strings.FieldsFunc(norm.NFC.String(text), func(r rune) bool {
		return !unicode.Is(unicode.Bengali, r)
	})
	var out []string
	seen := make(map[string]bool)
	for _, w := range words {
		if len(out) == MaxKeywords {
			break
		}
		if utf8.RuneCountInString(w) < minKeywordRunes || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func section(b *strings.Builder, name string) {
	b.WriteString(name)
	b.WriteString(":\n")
}

func bullets(b *strings.Builder, items []string) {
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
}

func nonEmpty(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func categoryLabel(lex *lexicon.Lexicon, id lexicon.Category) string {
	if lex == nil {
		return string(id)
	}
	return lex.CategoryLabel(id)
}

func priorityLabel(lex *lexicon.Lexicon, id lexicon.Priority) string {
	if lex == nil {
		return string(id)
	}
	return lex.PriorityLabel(id)
}

func productLabel(lex *lexicon.Lexicon, id lexicon.Product) string {
	if lex == nil {
		return string(id)
	}
	return lex.ProductLabel(id)
}

func sentimentLabel(s classify.Sentiment) string {
	if s == "" {
		s = classify.SentimentUnknown
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}
