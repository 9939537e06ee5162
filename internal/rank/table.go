// Package rank holds the rank ladder, the per-rank pricing and advancement
// table, and the progression engine that draws rank-up outcomes.
package rank

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// Ladder is the fixed advancement order. Kage is terminal: an advance attempt
// at Kage leaves the rank unchanged.
var Ladder = []string{"Academy", "Genin", "Chuunin", "Jounin", "Special-Jounin", "Kage"}

// Terminal is the final rank on the ladder.
const Terminal = "Kage"

// ErrInvalidRank is returned when a metadata document carries a rank value
// that is not on the ladder, or when a price is requested for a rank that
// cannot be advanced.
var ErrInvalidRank = errors.New("not a valid rank to use for rankup")

// Tier is the table entry for a single rank.
type Tier struct {
	// Threshold is the minimum draw in [1,99] for the advance to succeed.
	Threshold int
	// Price is the rank-up fee quoted while the token holds this rank.
	Price int64
}

// Table maps each non-terminal rank to its tier.
type Table struct {
	tiers map[string]Tier
}

// NewTable builds a Table from per-rank thresholds and prices. Every rank on
// the ladder except the terminal one must be present in both maps.
func NewTable(thresholds map[string]int, prices map[string]int64) (*Table, error) {
	tiers := make(map[string]Tier, len(Ladder)-1)
	for _, r := range Ladder {
		if r == Terminal {
			continue
		}
		th, ok := thresholds[r]
		if !ok {
			return nil, fmt.Errorf("rank table missing threshold for %q", r)
		}
		if th < 1 || th > 99 {
			return nil, fmt.Errorf("rank table threshold for %q out of range: %d", r, th)
		}
		p, ok := prices[r]
		if !ok {
			return nil, fmt.Errorf("rank table missing price for %q", r)
		}
		tiers[r] = Tier{Threshold: th, Price: p}
	}
	return &Table{tiers: tiers}, nil
}

// DefaultTable returns the table with the stock deployment values.
func DefaultTable() *Table {
	t, err := NewTable(
		map[string]int{
			"Academy":        20,
			"Genin":          50,
			"Chuunin":        70,
			"Jounin":         80,
			"Special-Jounin": 90,
		},
		map[string]int64{
			"Academy":        250,
			"Genin":          200,
			"Chuunin":        180,
			"Jounin":         180,
			"Special-Jounin": 180,
		},
	)
	if err != nil {
		panic(err) // the stock values are always complete
	}
	return t
}

// Price returns the rank-up fee for a token currently at the given rank.
// The terminal rank has no price: there is nothing left to advance to.
func (t *Table) Price(rank string) (int64, error) {
	tier, ok := t.tiers[rank]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRank, rank)
	}
	return tier.Price, nil
}

// Threshold returns the advancement threshold for the given rank.
func (t *Table) Threshold(rank string) (int, error) {
	tier, ok := t.tiers[rank]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRank, rank)
	}
	return tier.Threshold, nil
}

// Next returns the rank one step up the ladder. The terminal rank maps to
// itself.
func Next(rank string) (string, error) {
	i := slices.Index(Ladder, rank)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRank, rank)
	}
	if rank == Terminal {
		return Terminal, nil
	}
	return Ladder[i+1], nil
}

// Known reports whether the rank is on the ladder.
func Known(rank string) bool {
	return slices.Contains(Ladder, rank)
}
