package cards

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ErrEmptyDatabase is returned when a database defines no cards.
var ErrEmptyDatabase = errors.New("cards: database has no cards")

//go:embed sample.toml
var sampleTOML []byte

type database struct {
	Cards []Card `toml:"card"`
}

// Parse reads a TOML card database made of [[card]] tables.
func Parse(data []byte) (*Table, error) {
	var db database
	if err := toml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("cards: parse: %w", err)
	}
	if len(db.Cards) == 0 {
		return nil, ErrEmptyDatabase
	}

	seen := make(map[string]bool, len(db.Cards))
	for i, c := range db.Cards {
		if c.ID == "" {
			return nil, fmt.Errorf("cards: card %d: missing id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("cards: duplicate card id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Text == "" {
			return nil, fmt.Errorf("cards: card %q: missing text", c.ID)
		}
		if !hasKeyword(c.Keywords) {
			return nil, fmt.Errorf("cards: card %q: no keywords", c.ID)
		}
	}
	return NewTable(db.Cards...), nil
}

func hasKeyword(keywords []string) bool {
	for _, k := range keywords {
		if k != "" {
			return true
		}
	}
	return false
}

// LoadFile reads a card database from path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cards: read database: %w", err)
	}
	return Parse(data)
}

// Load reads path, or returns the sample database when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Sample(), nil
	}
	return LoadFile(path)
}

// Sample returns the built-in sample database.
func Sample() *Table {
	t, err := Parse(sampleTOML)
	if err != nil {
		panic(fmt.Sprintf("cards: invalid sample database: %v", err))
	}
	return t
}
