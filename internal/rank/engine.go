package rank

import (
	"fmt"
	"math/rand/v2"

	"github.com/kamakura-labs/rankup-server/internal/metadata"
)

// Engine draws weighted rank-up outcomes against a Table.
type Engine struct {
	table *Table
	draw  func() int
}

// NewEngine returns an Engine using a uniform random draw in [1,99].
func NewEngine(table *Table) *Engine {
	return &Engine{
		table: table,
		draw:  func() int { return rand.IntN(99) + 1 },
	}
}

// NewEngineWithDraw returns an Engine with an injected draw function.
// Used by tests to make outcomes deterministic.
func NewEngineWithDraw(table *Table, draw func() int) *Engine {
	return &Engine{table: table, draw: draw}
}

// Table returns the engine's rank table.
func (e *Engine) Table() *Table {
	return e.table
}

// Advance reads the current rank from the first attribute slot, draws an
// outcome, and returns the updated attributes plus whether the rank moved.
// Only the first attribute slot is ever mutated; the rest of the array
// passes through unchanged. A draw below the rank's threshold is a normal
// no-advance outcome, not an error. The terminal rank never changes and
// never reports success.
func (e *Engine) Advance(attrs []metadata.Attribute) ([]metadata.Attribute, bool, error) {
	if len(attrs) == 0 {
		return nil, false, fmt.Errorf("%w: empty attribute array", ErrInvalidRank)
	}

	current := attrs[0].Value
	if !Known(current) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidRank, current)
	}

	if current == Terminal {
		return attrs, false, nil
	}

	threshold, err := e.table.Threshold(current)
	if err != nil {
		return nil, false, err
	}

	chance := e.draw()
	if chance < threshold {
		return attrs, false, nil
	}

	next, err := Next(current)
	if err != nil {
		return nil, false, err
	}

	out := make([]metadata.Attribute, len(attrs))
	copy(out, attrs)
	out[0].Value = next
	return out, true, nil
}
