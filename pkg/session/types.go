package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Session is the authenticated context every backend call after token
// issuance runs under.
type Session struct {
	Token     string
	Currency  string
	Language  string
	SessionID string
	GameID    string

	// ExpiresAt is taken from the token's exp claim. Zero when the token
	// carries no expiry or is opaque.
	ExpiresAt time.Time
}

// Expired reports whether the session token is known to have expired at t.
func (s *Session) Expired(t time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// Grid is a columns x rows matrix of symbol ids.
type Grid [][]int

// Equal reports a cell by cell match.
func (g Grid) Equal(o Grid) bool {
	if len(g) != len(o) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(o[i]) {
			return false
		}
		for j := range g[i] {
			if g[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of g.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	c := make(Grid, len(g))
	for i := range g {
		c[i] = append([]int(nil), g[i]...)
	}
	return c
}

// PaylineWin is a single winning line of a spin.
type PaylineWin struct {
	LineKey     string
	Symbol      int
	Count       int
	Win         decimal.Decimal
	Multipliers []decimal.Decimal
}

// FreeSpinItem is one pre-computed bonus round.
type FreeSpinItem struct {
	Grid        Grid
	Paylines    []PaylineWin
	SpinsLeft   int
	SubTotalWin decimal.Decimal
}

// Win is the amount won by this item, the sum of its payline wins.
func (it *FreeSpinItem) Win() decimal.Decimal {
	return SumWins(it.Paylines)
}

// FreeSpinBlock is present on a record that grants or continues a bonus
// free-spin sequence.
type FreeSpinBlock struct {
	Count    int
	TotalWin decimal.Decimal
	Items    []FreeSpinItem
}

// SpinRecord is the normalized result of one spin call.
type SpinRecord struct {
	PlayerID      string
	Bet           decimal.Decimal
	Grid          Grid
	Paylines      []PaylineWin
	FreeSpinBlock *FreeSpinBlock

	// Synthetic marks the client-made no-op record that stands in for a
	// spin the backend refused because free rounds ran out.
	Synthetic bool
}

// Win is the sum of the record's payline wins.
func (r *SpinRecord) Win() decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return SumWins(r.Paylines)
}

// HasBonus reports whether the record starts or continues a bonus sequence.
func (r *SpinRecord) HasBonus() bool {
	return r != nil && r.FreeSpinBlock != nil && len(r.FreeSpinBlock.Items) > 0
}

// NoOpRecord builds the record animated when the backend reports exhausted
// free rounds: the last known grid with nothing won.
func NoOpRecord(last Grid, bet decimal.Decimal) *SpinRecord {
	return &SpinRecord{
		Bet:       bet,
		Grid:      last.Clone(),
		Synthetic: true,
	}
}

// SumWins adds up the payline wins.
func SumWins(lines []PaylineWin) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Win)
	}
	return total
}

// FreeRoundEntry is one itemized init free-round grant.
type FreeRoundEntry struct {
	Bet               decimal.Decimal `json:"bet"`
	TotalFreeSpin     int             `json:"totalFreeSpin"`
	UsedFreeSpin      int             `json:"usedFreeSpin"`
	RemainingFreeSpin *int            `json:"remainingFreeSpin,omitempty"`
}

// Remaining is remainingFreeSpin when sent, else total minus used floored
// at zero.
func (e *FreeRoundEntry) Remaining() int {
	if e.RemainingFreeSpin != nil {
		return *e.RemainingFreeSpin
	}
	if n := e.TotalFreeSpin - e.UsedFreeSpin; n > 0 {
		return n
	}
	return 0
}

// InitializationPayload is the session context returned by initialize. The
// free round grant arrives either as a plain count or as a list of entries;
// both are kept as received and folded into RemainingInitFreeSpins and
// InitFreeSpinBet by the client.
type InitializationPayload struct {
	HasFreeSpinRound    bool
	FreeSpinCount       *int
	FreeRounds          []FreeRoundEntry
	HasUnresolvedSpin   bool
	UnresolvedSpinIndex int
	UnresolvedSpin      json.RawMessage

	RemainingInitFreeSpins int
	InitFreeSpinBet        *decimal.Decimal
}

// Normalize folds the free round grant into RemainingInitFreeSpins and
// InitFreeSpinBet.
func (p *InitializationPayload) Normalize() {
	p.RemainingInitFreeSpins = 0
	p.InitFreeSpinBet = nil
	if !p.HasFreeSpinRound {
		return
	}
	switch {
	case p.FreeSpinCount != nil:
		if *p.FreeSpinCount > 0 {
			p.RemainingInitFreeSpins = *p.FreeSpinCount
		}
	case len(p.FreeRounds) > 0:
		first := &p.FreeRounds[0]
		if n := first.Remaining(); n > 0 {
			p.RemainingInitFreeSpins = n
		}
		bet := first.Bet
		p.InitFreeSpinBet = &bet
	}
}

// SpinRequest is the body of a bet call.
type SpinRequest struct {
	Bet             decimal.Decimal
	Line            int
	IsBuyFeature    bool
	IsEnhanced      bool
	IsInitFreeRound bool
}

// HistoryEntry is one past round.
type HistoryEntry struct {
	ID         string          `json:"id"`
	RoundID    string          `json:"roundId,omitempty"`
	Bet        decimal.Decimal `json:"bet"`
	Win        decimal.Decimal `json:"win"`
	IsFreeSpin bool            `json:"isFreeSpin,omitempty"`
	CreatedAt  string          `json:"createdAt"`
}

// HistoryPage is one page of history.
type HistoryPage struct {
	Items []HistoryEntry `json:"items"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int            `json:"total"`
}

// String renders the record on one line for logs.
func (r *SpinRecord) String() string {
	if r == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "bet=%s win=%s lines=%d", r.Bet, r.Win(), len(r.Paylines))
	if r.FreeSpinBlock != nil {
		fmt.Fprintf(&b, " bonus=%d/%s", len(r.FreeSpinBlock.Items),
			r.FreeSpinBlock.TotalWin)
	}
	if r.Synthetic {
		b.WriteString(" synthetic")
	}
	return b.String()
}
