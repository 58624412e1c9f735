package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
)

// InputHandler maps keys to player intents.
type InputHandler struct {
	ui *SlotUI
}

// HandleKeyMsg processes keyboard input based on current state
func (ih *InputHandler) HandleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	u := ih.ui
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return tea.Quit
	}

	switch {
	case u.confirmBuy:
		return ih.handleConfirmBuyInput(key)
	case u.snap.DialogPending:
		return ih.handleDialogInput(key)
	case u.snap.State == orchestrator.StateErrorAuth:
		return ih.handleAuthInput(key)
	}
	return ih.handleGameInput(key)
}

func (ih *InputHandler) handleGameInput(key string) tea.Cmd {
	u := ih.ui
	d := u.dispatcher
	switch key {
	case " ", "enter":
		if u.animating {
			return nil
		}
		return d.spinCmd()
	case "b":
		if u.snap.BonusActive || u.snap.InitFreeRounds > 0 {
			return nil
		}
		u.confirmBuy = true
	case "a":
		return d.autoplayCmd(u.autoplaySpins)
	case "f":
		return d.freeRoundAutoplayCmd()
	case "s":
		return d.stopAutoplayCmd()
	case "t":
		return d.turboCmd(!u.snap.Turbo)
	case "e":
		return d.enhancedCmd(!u.snap.Bet.IsEnhanced)
	case "+", "=", "up", "k":
		return d.betCmd(true)
	case "-", "down", "j":
		return d.betCmd(false)
	case "r":
		return d.refreshBalanceCmd()
	case "esc":
		u.notice = nil
		u.err = nil
	}
	return nil
}

func (ih *InputHandler) handleConfirmBuyInput(key string) tea.Cmd {
	u := ih.ui
	u.confirmBuy = false
	switch key {
	case "y", "enter":
		return u.dispatcher.buyFeatureCmd()
	}
	return nil
}

func (ih *InputHandler) handleDialogInput(key string) tea.Cmd {
	switch key {
	case " ", "enter", "esc", "d":
		return ih.ui.dispatcher.dismissDialogCmd()
	}
	return nil
}

func (ih *InputHandler) handleAuthInput(key string) tea.Cmd {
	switch key {
	case "l", "enter":
		return ih.ui.dispatcher.reauthCmd()
	}
	return nil
}
