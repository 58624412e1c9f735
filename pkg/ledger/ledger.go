// Package ledger tracks the spins a player gets without paying: rounds
// granted at session initialization and bonus free spins granted in play.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/session"
)

// Ledger is a plain value container. It is not safe for concurrent use; the
// orchestrator owns it and serializes access.
type Ledger struct {
	initialized bool

	remainingInitFreeSpins int
	initFreeSpinBet        *decimal.Decimal

	bonusActive             bool
	bonusFreeSpinsRemaining int
	bonusFreeSpinIndex      int

	uiDisplayOverride *int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// InitFrom populates the init free rounds from p. Only the first call has
// an effect.
func (l *Ledger) InitFrom(p *session.InitializationPayload) bool {
	if l.initialized || p == nil {
		return false
	}
	l.initialized = true
	if p.RemainingInitFreeSpins > 0 {
		l.remainingInitFreeSpins = p.RemainingInitFreeSpins
	}
	if p.InitFreeSpinBet != nil {
		bet := *p.InitFreeSpinBet
		l.initFreeSpinBet = &bet
	}
	return true
}

// RemainingInitFreeSpins is the number of init free rounds left.
func (l *Ledger) RemainingInitFreeSpins() int {
	return l.remainingInitFreeSpins
}

// InitFreeSpinBet is the bet the init free rounds were granted at, if known.
func (l *Ledger) InitFreeSpinBet() (decimal.Decimal, bool) {
	if l.initFreeSpinBet == nil {
		return decimal.Zero, false
	}
	return *l.initFreeSpinBet, true
}

// HasInitFreeRounds reports whether the next ordinary spin is free.
func (l *Ledger) HasInitFreeRounds() bool {
	return l.remainingInitFreeSpins > 0
}

// ConsumeInitRound takes one init free round if any is left.
func (l *Ledger) ConsumeInitRound() bool {
	if l.remainingInitFreeSpins <= 0 {
		return false
	}
	l.remainingInitFreeSpins--
	return true
}

// EndInitFreeRounds discards the remaining init free rounds. Called when
// the backend reports the allotment exhausted.
func (l *Ledger) EndInitFreeRounds() {
	l.remainingInitFreeSpins = 0
	l.initFreeSpinBet = nil
}

// SyncBonusFromRecord sets the bonus counter from block. The item whose grid
// equals currentGrid wins; otherwise the first item with spins left.
// Returns the index of the chosen item, or -1 when block has nothing to
// play.
func (l *Ledger) SyncBonusFromRecord(block *session.FreeSpinBlock, currentGrid session.Grid) int {
	if block == nil || len(block.Items) == 0 {
		return -1
	}

	idx := -1
	if currentGrid != nil {
		for i := range block.Items {
			if block.Items[i].Grid.Equal(currentGrid) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := range block.Items {
			if block.Items[i].SpinsLeft > 0 {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return -1
	}

	l.bonusActive = true
	l.bonusFreeSpinIndex = idx
	l.bonusFreeSpinsRemaining = block.Items[idx].SpinsLeft
	return idx
}

// StartBonus marks a bonus sequence of total spins as begun, before any
// item is played.
func (l *Ledger) StartBonus(total int) {
	l.bonusActive = true
	l.bonusFreeSpinIndex = 0
	l.bonusFreeSpinsRemaining = total
	l.uiDisplayOverride = nil
}

// BonusActive reports whether a bonus sequence is running.
func (l *Ledger) BonusActive() bool {
	return l.bonusActive
}

// BonusFreeSpinsRemaining is the backend's count of bonus spins left.
func (l *Ledger) BonusFreeSpinsRemaining() int {
	return l.bonusFreeSpinsRemaining
}

// BonusFreeSpinIndex is the index of the item last synced.
func (l *Ledger) BonusFreeSpinIndex() int {
	return l.bonusFreeSpinIndex
}

// ApplyRetriggerBonus arms a display override of the current display value
// plus n.
func (l *Ledger) ApplyRetriggerBonus(n int) {
	if n <= 0 {
		return
	}
	v := l.BonusDisplay() + n
	l.uiDisplayOverride = &v
}

// BonusDisplay is the count to show without consuming the override.
func (l *Ledger) BonusDisplay() int {
	if l.uiDisplayOverride != nil {
		return *l.uiDisplayOverride
	}
	return l.bonusFreeSpinsRemaining
}

// TakeBonusDisplay returns the count to show, consuming the override.
func (l *Ledger) TakeBonusDisplay() int {
	if l.uiDisplayOverride != nil {
		v := *l.uiDisplayOverride
		l.uiDisplayOverride = nil
		return v
	}
	return l.bonusFreeSpinsRemaining
}

// OverrideActive reports whether a retrigger override is pending.
func (l *Ledger) OverrideActive() bool {
	return l.uiDisplayOverride != nil
}

// EndBonus discards the bonus state and any pending override.
func (l *Ledger) EndBonus() {
	l.bonusActive = false
	l.bonusFreeSpinsRemaining = 0
	l.bonusFreeSpinIndex = 0
	l.uiDisplayOverride = nil
}

func (l *Ledger) String() string {
	return fmt.Sprintf("init=%d bonus=%v left=%d idx=%d override=%v",
		l.remainingInitFreeSpins, l.bonusActive, l.bonusFreeSpinsRemaining,
		l.bonusFreeSpinIndex, l.uiDisplayOverride != nil)
}
