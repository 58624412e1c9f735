package mockserver

import (
	"math/rand"
	"strconv"

	"github.com/shopspring/decimal"
)

// Scatter is the symbol that triggers a bonus when it lands three times.
const Scatter = 9

// Outcome scripts the next spin of a player.
type Outcome struct {
	// Win is the payline win of the spin itself.
	Win decimal.Decimal

	// BonusWins holds one win per awarded bonus spin. A non-empty list
	// triggers a bonus.
	BonusWins []decimal.Decimal

	// Retrigger awards that many extra spins on the first bonus spin. The
	// extra spins win nothing.
	Retrigger int
}

// paytable is the line multiplier per symbol for three of a kind; every
// further symbol doubles it.
var paytable = map[int]decimal.Decimal{
	0: decimal.RequireFromString("0.2"),
	1: decimal.RequireFromString("0.3"),
	2: decimal.RequireFromString("0.4"),
	3: decimal.RequireFromString("0.5"),
	4: decimal.RequireFromString("0.8"),
	5: decimal.RequireFromString("1"),
	6: decimal.RequireFromString("2"),
	7: decimal.RequireFromString("5"),
	8: decimal.RequireFromString("10"),
}

type game struct {
	cols, rows, symbols int
	bonusSpins          int
	rng                 *rand.Rand
}

func (g *game) grid() [][]int {
	grid := make([][]int, g.cols)
	for c := range grid {
		grid[c] = make([]int, g.rows)
		for r := range grid[c] {
			grid[c][r] = g.rng.Intn(g.symbols)
		}
	}
	return grid
}

// evaluate pays every row with three or more equal symbols from the left
// reel, and counts scatters.
func (g *game) evaluate(grid [][]int, bet decimal.Decimal) ([]payline, int) {
	var lines []payline
	scatters := 0
	for _, col := range grid {
		for _, s := range col {
			if s == Scatter {
				scatters++
			}
		}
	}
	if len(grid) == 0 {
		return nil, scatters
	}
	for r := 0; r < len(grid[0]); r++ {
		sym := grid[0][r]
		if sym == Scatter {
			continue
		}
		n := 1
		for c := 1; c < len(grid) && r < len(grid[c]) && grid[c][r] == sym; c++ {
			n++
		}
		if n < 3 {
			continue
		}
		mult, ok := paytable[sym]
		if !ok {
			continue
		}
		win := bet.Mul(mult).Mul(decimal.NewFromInt(int64(1) << (n - 3)))
		lines = append(lines, payline{
			LineKey: strconv.Itoa(r + 1),
			Symbol:  sym,
			Count:   n,
			Win:     win.Round(2),
		})
	}
	return lines, scatters
}

// scripted builds the paylines for a scripted win on grid.
func scripted(grid [][]int, win decimal.Decimal) []payline {
	if !win.IsPositive() {
		return nil
	}
	return []payline{{LineKey: "1", Symbol: grid[0][0], Count: 3, Win: win}}
}

// bonus builds the block for awarded spins plus retrigger extra spins won
// on the first one. An item's spinsLeft is the count after it was played,
// before any spins it awards; a retrigger shows as the next item having as
// many spins left or more.
func (g *game) bonus(awarded, retrigger int, lines func(i int, grid [][]int) []payline) *freeSpinBlock {
	total := awarded + retrigger
	block := &freeSpinBlock{Count: total}

	remaining := awarded
	sub := decimal.Zero
	for i := 0; i < total; i++ {
		remaining--
		grid := g.grid()
		ls := lines(i, grid)
		for _, l := range ls {
			sub = sub.Add(l.Win)
		}
		block.Items = append(block.Items, freeSpinItem{
			Grid:        grid,
			Paylines:    ls,
			SpinsLeft:   remaining,
			SubTotalWin: sub,
		})
		if i == 0 {
			remaining += retrigger
		}
	}
	block.TotalWin = sub
	return block
}

// scriptedBonus pays wins[i] on the i-th spin.
func (g *game) scriptedBonus(wins []decimal.Decimal, retrigger int) *freeSpinBlock {
	return g.bonus(len(wins), retrigger, func(i int, grid [][]int) []payline {
		if i >= len(wins) {
			return nil
		}
		return scripted(grid, wins[i])
	})
}

// randomBonus plays n bonus spins on the paytable, retriggering now and
// then.
func (g *game) randomBonus(bet decimal.Decimal, n int) *freeSpinBlock {
	retrigger := 0
	if g.rng.Intn(4) == 0 {
		retrigger = 3
	}
	return g.bonus(n, retrigger, func(_ int, grid [][]int) []payline {
		lines, _ := g.evaluate(grid, bet)
		return lines
	})
}
