// Package grid computes the price ladder and the band a price occupies.
// Bands are half-open intervals [line[i], line[i+1]): a price sitting
// exactly on a line belongs to the higher band, so repeated identical
// prices never toggle between bands.
package grid

import (
	"fmt"
	"sort"

	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// BelowGrid is returned by BandOf for prices under the lowest line. Prices
// at or above the top line map to NumBands().
const BelowGrid = -1

// Ladder is an immutable set of monotonically increasing grid lines. It is
// computed once from configuration and safe for concurrent use.
type Ladder struct {
	lines []decimal.Decimal
}

// New builds a ladder from a SymbolConfig. Two forms are accepted: explicit
// bounds with a line count, or a center price with a percentage step and a
// level count on each side.
func New(cfg models.SymbolConfig) (*Ladder, error) {
	switch {
	case cfg.GridLines > 0:
		return fromBounds(cfg.GridLower, cfg.GridUpper, cfg.GridLines)
	case cfg.GridStepPct > 0:
		return fromCenter(cfg.GridCenter, cfg.GridStepPct, cfg.LevelsDown, cfg.LevelsUp)
	default:
		return nil, fmt.Errorf("grid: symbol %s has neither grid_lines nor grid_step_pct", cfg.Symbol)
	}
}

func fromBounds(lower, upper float64, lines int) (*Ladder, error) {
	if lines < 2 {
		return nil, fmt.Errorf("grid: need at least 2 lines, got %d", lines)
	}
	if lower <= 0 || upper <= lower {
		return nil, fmt.Errorf("grid: invalid bounds [%v, %v]", lower, upper)
	}
	lo := decimal.NewFromFloat(lower)
	hi := decimal.NewFromFloat(upper)
	step := hi.Sub(lo).Div(decimal.NewFromInt(int64(lines - 1)))

	ladder := &Ladder{lines: make([]decimal.Decimal, lines)}
	for i := 0; i < lines; i++ {
		ladder.lines[i] = lo.Add(step.Mul(decimal.NewFromInt(int64(i))))
	}
	// The last line is set exactly to avoid accumulated step error at the top.
	ladder.lines[lines-1] = hi
	return ladder, nil
}

func fromCenter(center, stepPct float64, levelsDown, levelsUp int) (*Ladder, error) {
	if center <= 0 {
		return nil, fmt.Errorf("grid: invalid center price %v", center)
	}
	if levelsDown < 0 || levelsUp < 0 || levelsDown+levelsUp < 1 {
		return nil, fmt.Errorf("grid: invalid level counts down=%d up=%d", levelsDown, levelsUp)
	}
	c := decimal.NewFromFloat(center)
	step := c.Mul(decimal.NewFromFloat(stepPct)).Div(decimal.NewFromInt(100))
	if !step.IsPositive() {
		return nil, fmt.Errorf("grid: step computed as %s for center %v step_pct %v", step, center, stepPct)
	}

	ladder := &Ladder{}
	for lvl := -levelsDown; lvl <= levelsUp; lvl++ {
		line := c.Add(step.Mul(decimal.NewFromInt(int64(lvl))))
		if !line.IsPositive() {
			return nil, fmt.Errorf("grid: line at level %d is non-positive (%s); reduce levels_down", lvl, line)
		}
		ladder.lines = append(ladder.lines, line)
	}
	return ladder, nil
}

// BandOf maps a price to its band index: BelowGrid under line 0, NumBands()
// at or above the top line, otherwise the i with line[i] <= price < line[i+1].
func (l *Ladder) BandOf(price decimal.Decimal) int {
	// Index of the first line strictly above the price; the band is the one
	// below it. Prices at or above the top line land on NumBands().
	idx := sort.Search(len(l.lines), func(i int) bool {
		return l.lines[i].GreaterThan(price)
	})
	return idx - 1
}

// Line returns the i-th grid line. Panics on out-of-range i, matching slice
// semantics.
func (l *Ladder) Line(i int) decimal.Decimal {
	return l.lines[i]
}

// NumLines returns the number of grid lines.
func (l *Ladder) NumLines() int {
	return len(l.lines)
}

// NumBands returns the number of in-grid bands (lines minus one).
func (l *Ladder) NumBands() int {
	return len(l.lines) - 1
}

// Step returns the spacing between the first two lines. Ladders built from
// either form are evenly spaced.
func (l *Ladder) Step() decimal.Decimal {
	return l.lines[1].Sub(l.lines[0])
}
