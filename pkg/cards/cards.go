// Package cards maps detection labels to narration text.
//
// A Table is an ordered list of cards. Matching attaches the text of the
// first card with a keyword contained in a detection's label; Select then
// picks the single result worth narrating.
package cards

import (
	"strings"

	"github.com/teslashibe/go-cardsense/pkg/detection"
)

// Card is one entry in the card database.
type Card struct {
	ID       string   `toml:"id" json:"id"`
	Name     string   `toml:"name" json:"name"`
	Text     string   `toml:"text" json:"text"`
	Keywords []string `toml:"keywords" json:"keywords"`
}

// matches reports whether any keyword is a case-insensitive substring of label.
func (c Card) matches(label string) bool {
	for _, kw := range c.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(label, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Table is an ordered, read-only card database.
type Table struct {
	cards []Card
}

// NewTable creates a table. Earlier cards take precedence when matching.
func NewTable(cards ...Card) *Table {
	return &Table{cards: append([]Card(nil), cards...)}
}

// Cards returns a copy of the cards in table order.
func (t *Table) Cards() []Card {
	if t == nil {
		return nil
	}
	return append([]Card(nil), t.cards...)
}

// Len returns the number of cards.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cards)
}

// Lookup returns the first card matching label.
func (t *Table) Lookup(label string) (Card, bool) {
	if t == nil {
		return Card{}, false
	}
	label = strings.ToLower(label)
	for _, c := range t.cards {
		if c.matches(label) {
			return c, true
		}
	}
	return Card{}, false
}

// Match sets NarrationText on each unmatched result whose label matches a
// card, and returns results. Results that already carry text are left
// unchanged, so Match is idempotent.
func (t *Table) Match(results []detection.Result) []detection.Result {
	for i := range results {
		if results[i].Matched() {
			continue
		}
		if c, ok := t.Lookup(results[i].Label); ok {
			results[i].NarrationText = c.Text
		}
	}
	return results
}

// Select returns the matched result with the highest confidence strictly
// above threshold. Ties go to the earliest result.
func Select(results []detection.Result, threshold float64) (detection.Result, bool) {
	var (
		best  detection.Result
		found bool
	)
	for _, r := range results {
		if !r.Matched() || r.Confidence <= threshold {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
	}
	return best, found
}
