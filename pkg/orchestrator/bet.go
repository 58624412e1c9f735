package orchestrator

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultEnhancedMultiplier scales the displayed bet while the enhanced bet
// is on.
var DefaultEnhancedMultiplier = decimal.RequireFromString("1.25")

// DefaultBetLadder is the bet ladder used when none is configured.
var DefaultBetLadder = []decimal.Decimal{
	decimal.RequireFromString("0.20"),
	decimal.RequireFromString("0.50"),
	decimal.RequireFromString("1.00"),
	decimal.RequireFromString("2.00"),
	decimal.RequireFromString("5.00"),
	decimal.RequireFromString("10.00"),
	decimal.RequireFromString("20.00"),
	decimal.RequireFromString("50.00"),
}

// BetState is the player's bet. Requests are always made at BaseBet; the
// enhanced flag only changes what is displayed and charged.
type BetState struct {
	BaseBet    decimal.Decimal
	IsEnhanced bool

	multiplier decimal.Decimal
}

// Displayed is the bet shown to the player and charged on a paid spin.
func (b BetState) Displayed() decimal.Decimal {
	if b.IsEnhanced {
		m := b.multiplier
		if m.IsZero() {
			m = DefaultEnhancedMultiplier
		}
		return b.BaseBet.Mul(m)
	}
	return b.BaseBet
}

// withBase changes the base bet, which always turns the enhanced bet off.
func (b BetState) withBase(base decimal.Decimal) BetState {
	b.BaseBet = base
	b.IsEnhanced = false
	return b
}

// ladder is a sorted list of allowed base bets.
type ladder []decimal.Decimal

func newLadder(steps []decimal.Decimal) ladder {
	if len(steps) == 0 {
		steps = DefaultBetLadder
	}
	l := make(ladder, 0, len(steps))
	for _, s := range steps {
		if s.IsPositive() {
			l = append(l, s)
		}
	}
	sort.Slice(l, func(i, j int) bool { return l[i].LessThan(l[j]) })
	return l
}

// next returns the smallest step above cur.
func (l ladder) next(cur decimal.Decimal) (decimal.Decimal, bool) {
	for _, s := range l {
		if s.GreaterThan(cur) {
			return s, true
		}
	}
	return decimal.Zero, false
}

// prev returns the largest step below cur.
func (l ladder) prev(cur decimal.Decimal) (decimal.Decimal, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].LessThan(cur) {
			return l[i], true
		}
	}
	return decimal.Zero, false
}
