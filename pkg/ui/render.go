package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/utils"
)

// scatterSymbol is the symbol id drawn highlighted.
const scatterSymbol = 9

var symbolNames = []string{"10", "J", "Q", "K", "A", "BELL", "BAR", "7", "WILD", "SCAT"}

func symbolName(s int) string {
	if s >= 0 && s < len(symbolNames) {
		return symbolNames[s]
	}
	return strconv.Itoa(s)
}

// Renderer handles all rendering of the slot screen.
type Renderer struct {
	ui *SlotUI
}

// RenderHeader renders the title with balance and bet.
func (r *Renderer) RenderHeader() string {
	u := r.ui
	s := TitleStyle.Render("Slots") + "\n\n"
	s += fmt.Sprintf("  Balance: %s   Bet: %s",
		BalanceStyle.Render(utils.FormatMoney(u.snap.Balance, u.currency)),
		utils.FormatMoney(u.snap.DisplayedBet, u.currency))
	if u.snap.Bet.IsEnhanced {
		s += InfoStyle.Render(fmt.Sprintf(" (base %s)", u.snap.Bet.BaseBet.StringFixed(2)))
	}
	return s + "\n"
}

// RenderReels draws the grid. Symbols are blurred while the reels land.
func (r *Renderer) RenderReels() string {
	u := r.ui
	if len(u.grid) == 0 {
		return ReelStyle.Render("no spin yet") + "\n"
	}

	rows := 0
	for _, col := range u.grid {
		if len(col) > rows {
			rows = len(col)
		}
	}
	lines := make([]string, 0, rows)
	for row := 0; row < rows; row++ {
		cells := make([]string, 0, len(u.grid))
		for _, col := range u.grid {
			if row >= len(col) {
				cells = append(cells, SymbolStyle.Render(""))
				continue
			}
			sym := col[row]
			style := SymbolStyle
			switch {
			case u.animating:
				style = BlurredSymbolStyle
			case sym == scatterSymbol:
				style = ScatterStyle
			}
			cells = append(cells, style.Render(symbolName(sym)))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	box := ReelStyle
	if u.animating {
		box = SpinningReelStyle
	}
	return box.Render(strings.Join(lines, "\n")) + "\n"
}

// RenderWin shows the paylines of the last settled spin.
func (r *Renderer) RenderWin() string {
	u := r.ui
	rec := u.lastRec
	if rec == nil || u.animating {
		return "\n"
	}
	win := rec.Win()
	if !win.IsPositive() {
		return BlurredStyle.Render("  no win") + "\n"
	}
	s := WinStyle.Render("WIN "+utils.FormatMoney(win, u.currency)) + "\n"
	for _, l := range strings.Split(utils.FormatPaylines(rec.Paylines), "\n") {
		s += InfoStyle.Render("  "+l) + "\n"
	}
	return s
}

func flag(name string, on bool) string {
	if on {
		return FlagOnStyle.Render(name)
	}
	return FlagOffStyle.Render(name)
}

// RenderStatus shows the state, flags and counters.
func (r *Renderer) RenderStatus() string {
	u := r.ui
	snap := u.snap
	s := "\n  " + flag("TURBO", snap.Turbo) + " " + flag("ENHANCED", snap.Bet.IsEnhanced)
	s += " " + flag("AUTO", snap.Autoplay != nil)
	s += BlurredStyle.Render("  " + snap.State.String())
	s += "\n"

	if snap.InitFreeRounds > 0 {
		s += InfoStyle.Render(fmt.Sprintf("  Free rounds left: %d", snap.InitFreeRounds)) + "\n"
	}
	if snap.Autoplay != nil {
		kind := "Autoplay"
		if snap.Autoplay.IsFreeRoundFlavor {
			kind = "Free round autoplay"
		}
		s += InfoStyle.Render(fmt.Sprintf("  %s: %d spins left", kind, snap.Autoplay.SpinsRemaining)) + "\n"
	}
	if snap.BonusActive {
		b := fmt.Sprintf("FREE SPINS %d", snap.BonusSpinsDisplay)
		if u.retrigger > 0 {
			b += fmt.Sprintf("  +%d", u.retrigger)
		}
		s += BonusStyle.Render(b) + "\n"
	}
	return s
}

// RenderDialog renders the buy confirmation or the current notice.
func (r *Renderer) RenderDialog() string {
	u := r.ui
	if u.confirmBuy {
		price := utils.FormatMoney(u.game.BuyFeaturePrice(), u.currency)
		return WarningDialogStyle.Render(fmt.Sprintf("Buy free spins for %s?\n\n[y] yes  [n] no", price)) + "\n"
	}
	if u.notice == nil {
		return ""
	}
	switch u.notice.Type {
	case orchestrator.UINtfnBigWin:
		return DialogStyle.Render(u.notice.Text+"\n\n[enter] continue") + "\n"
	case orchestrator.UINtfnAuthExpired:
		return WarningDialogStyle.Render(u.notice.Text+"\n\n[l] log in again") + "\n"
	case orchestrator.UINtfnBonusEnded:
		return DialogStyle.Render(u.notice.Text) + "\n"
	default:
		return ErrorStyle.Render("  "+u.notice.Text) + "\n"
	}
}

// RenderHelp lists the keys.
func (r *Renderer) RenderHelp() string {
	return HelpStyle.Render("space spin • +/- bet • e enhanced • t turbo • a autoplay • f free rounds • s stop • b buy • r balance • q quit")
}
