package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
)

// Messages produced from orchestrator notifications.
type spinResultMsg struct {
	rec     *session.SpinRecord
	profile turbo.TimingProfile
}
type noticeMsg orchestrator.UINotification
type retriggerMsg int
type changedMsg struct{}

// Messages produced by commands.
type animationDoneMsg struct{ seq int }
type errorMsg error
type reauthMsg struct{ err error }

// CommandDispatcher turns player intents into orchestrator calls. Every call
// runs inside a tea.Cmd so the update loop never waits on the orchestrator.
type CommandDispatcher struct {
	ctx    context.Context
	game   Game
	reauth func(context.Context) error
	ntfns  chan tea.Msg
}

// NewCommandDispatcher creates a dispatcher for game. reauth may be nil.
func NewCommandDispatcher(ctx context.Context, game Game, reauth func(context.Context) error) *CommandDispatcher {
	return &CommandDispatcher{
		ctx:    ctx,
		game:   game,
		reauth: reauth,
		ntfns:  make(chan tea.Msg, 256),
	}
}

func (d *CommandDispatcher) send(msg tea.Msg) {
	select {
	case d.ntfns <- msg:
	case <-d.ctx.Done():
	}
}

// subscribe forwards the orchestrator notifications the UI reacts to.
func (d *CommandDispatcher) subscribe(nmgr *orchestrator.NotificationManager) {
	changed := func() { d.send(changedMsg{}) }

	nmgr.Register(orchestrator.OnSpinResultNtfn(func(rec *session.SpinRecord, profile turbo.TimingProfile) {
		d.send(spinResultMsg{rec: rec, profile: profile})
	}))
	nmgr.Register(orchestrator.OnUINotification(func(n orchestrator.UINotification) {
		d.send(noticeMsg(n))
	}))
	nmgr.Register(orchestrator.OnRetriggerNtfn(func(n int) {
		d.send(retriggerMsg(n))
	}))
	nmgr.Register(orchestrator.OnStateChangedNtfn(func(_, _ orchestrator.State) { changed() }))
	nmgr.Register(orchestrator.OnBalanceChangedNtfn(func(decimal.Decimal) { changed() }))
	nmgr.Register(orchestrator.OnFreeRoundCountChangedNtfn(func(int) { changed() }))
	nmgr.Register(orchestrator.OnAutoplayChangedNtfn(func(int, bool) { changed() }))
	nmgr.Register(orchestrator.OnBetChangedNtfn(func(orchestrator.BetState) { changed() }))
	nmgr.Register(orchestrator.OnTimingChangedNtfn(func(turbo.TimingProfile) { changed() }))
}

// listen waits for the next forwarded notification.
func (d *CommandDispatcher) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-d.ntfns:
			return msg
		case <-d.ctx.Done():
			return nil
		}
	}
}

func (d *CommandDispatcher) call(f func() error) tea.Cmd {
	return func() tea.Msg {
		if err := f(); err != nil {
			return errorMsg(err)
		}
		return changedMsg{}
	}
}

func (d *CommandDispatcher) spinCmd() tea.Cmd {
	return d.call(d.game.Spin)
}

func (d *CommandDispatcher) buyFeatureCmd() tea.Cmd {
	return d.call(d.game.BuyFeature)
}

func (d *CommandDispatcher) autoplayCmd(n int) tea.Cmd {
	return d.call(func() error { return d.game.StartAutoplay(n) })
}

func (d *CommandDispatcher) freeRoundAutoplayCmd() tea.Cmd {
	return d.call(d.game.StartFreeRoundAutoplay)
}

func (d *CommandDispatcher) stopAutoplayCmd() tea.Cmd {
	return d.call(func() error {
		d.game.StopAutoplay()
		return nil
	})
}

func (d *CommandDispatcher) turboCmd(on bool) tea.Cmd {
	return d.call(func() error {
		d.game.SetTurbo(on)
		return nil
	})
}

func (d *CommandDispatcher) enhancedCmd(on bool) tea.Cmd {
	return d.call(func() error { return d.game.SetEnhanced(on) })
}

func (d *CommandDispatcher) betCmd(up bool) tea.Cmd {
	if up {
		return d.call(d.game.IncreaseBet)
	}
	return d.call(d.game.DecreaseBet)
}

func (d *CommandDispatcher) refreshBalanceCmd() tea.Cmd {
	return d.call(d.game.RefreshBalance)
}

func (d *CommandDispatcher) animationCompleteCmd() tea.Cmd {
	return d.call(func() error {
		d.game.ReportAnimationComplete()
		return nil
	})
}

func (d *CommandDispatcher) dismissDialogCmd() tea.Cmd {
	return d.call(func() error {
		d.game.ReportDialogDismissed()
		return nil
	})
}

func (d *CommandDispatcher) reauthCmd() tea.Cmd {
	return func() tea.Msg {
		if d.reauth == nil {
			return reauthMsg{err: errNoReauth}
		}
		return reauthMsg{err: d.reauth(d.ctx)}
	}
}

// animateCmd stands in for the reel animation of the spin numbered seq.
func animateCmd(seq int, dur time.Duration) tea.Cmd {
	return tea.Tick(dur, func(time.Time) tea.Msg {
		return animationDoneMsg{seq: seq}
	})
}

// animationDuration is how long the reels of rec take to land and count up
// the win under profile.
func animationDuration(rec *session.SpinRecord, profile turbo.TimingProfile) time.Duration {
	dur := profile.DropDuration
	if rec != nil && len(rec.Grid) > 1 {
		dur += time.Duration(len(rec.Grid)-1) * profile.ReelDropDelay
	}
	if rec.Win().IsPositive() {
		dur += profile.WinUpDuration
	}
	return dur
}
