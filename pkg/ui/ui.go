package ui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
)

// DefaultAutoplaySpins is the batch size started by the autoplay key.
const DefaultAutoplaySpins = 10

var errNoReauth = errors.New("re-authentication not available")

// Game is the part of the orchestrator driven by the UI.
type Game interface {
	Spin() error
	BuyFeature() error
	BuyFeaturePrice() decimal.Decimal
	StartAutoplay(n int) error
	StartFreeRoundAutoplay() error
	StopAutoplay()
	SetTurbo(on bool) turbo.TimingProfile
	SetEnhanced(on bool) error
	IncreaseBet() error
	DecreaseBet() error
	RefreshBalance() error
	ReportAnimationComplete()
	ReportDialogDismissed()
	Snapshot() orchestrator.Snapshot
	Notifications() *orchestrator.NotificationManager
}

// Options tunes the UI.
type Options struct {
	Currency      string
	AutoplaySpins int

	// Reauth replaces an expired session. The re-login key is disabled
	// when nil.
	Reauth func(context.Context) error
}

// SlotUI is the bubbletea model of the slot screen.
type SlotUI struct {
	ctx        context.Context
	game       Game
	dispatcher *CommandDispatcher
	input      *InputHandler
	renderer   *Renderer

	currency      string
	autoplaySpins int

	snap orchestrator.Snapshot

	// Reels shown and whether they are still landing.
	grid      session.Grid
	lastRec   *session.SpinRecord
	animSeq   int
	animating bool

	notice     *orchestrator.UINotification
	retrigger  int
	confirmBuy bool
	err        error
}

// NewSlotUI creates the UI for game and subscribes to its notifications.
func NewSlotUI(ctx context.Context, game Game, opts Options) *SlotUI {
	if opts.AutoplaySpins <= 0 {
		opts.AutoplaySpins = DefaultAutoplaySpins
	}
	u := &SlotUI{
		ctx:           ctx,
		game:          game,
		dispatcher:    NewCommandDispatcher(ctx, game, opts.Reauth),
		currency:      opts.Currency,
		autoplaySpins: opts.AutoplaySpins,
		snap:          game.Snapshot(),
	}
	u.grid = u.snap.LastGrid
	u.input = &InputHandler{ui: u}
	u.renderer = &Renderer{ui: u}
	u.dispatcher.subscribe(game.Notifications())
	return u
}

func (u *SlotUI) Init() tea.Cmd {
	return u.dispatcher.listen()
}

func (u *SlotUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return u, u.input.HandleKeyMsg(msg)

	case spinResultMsg:
		u.refresh()
		u.err = nil
		u.lastRec = msg.rec
		if msg.rec != nil && len(msg.rec.Grid) > 0 {
			u.grid = msg.rec.Grid
		}
		u.animSeq++
		u.animating = true
		return u, tea.Batch(u.dispatcher.listen(),
			animateCmd(u.animSeq, animationDuration(msg.rec, msg.profile)))

	case animationDoneMsg:
		if msg.seq != u.animSeq || !u.animating {
			return u, nil
		}
		u.animating = false
		return u, u.dispatcher.animationCompleteCmd()

	case noticeMsg:
		n := orchestrator.UINotification(msg)
		u.notice = &n
		u.refresh()
		return u, u.dispatcher.listen()

	case retriggerMsg:
		u.retrigger = int(msg)
		u.refresh()
		return u, u.dispatcher.listen()

	case changedMsg:
		u.refresh()
		return u, u.dispatcher.listen()

	case reauthMsg:
		if msg.err != nil {
			u.err = msg.err
			return u, nil
		}
		u.notice = nil
		u.err = nil
		u.refresh()
		return u, nil

	case errorMsg:
		u.err = msg
		u.refresh()
		return u, nil
	}
	return u, nil
}

// refresh re-reads the orchestrator snapshot and drops notices whose
// condition has cleared.
func (u *SlotUI) refresh() {
	u.snap = u.game.Snapshot()
	if u.notice == nil {
		return
	}
	switch u.notice.Type {
	case orchestrator.UINtfnAuthExpired:
		if u.snap.State != orchestrator.StateErrorAuth {
			u.notice = nil
		}
	case orchestrator.UINtfnBigWin:
		if !u.snap.DialogPending {
			u.notice = nil
		}
	}
	if !u.snap.BonusActive {
		u.retrigger = 0
	}
}

// View renders the slot screen.
func (u *SlotUI) View() string {
	r := u.renderer
	s := r.RenderHeader()
	s += r.RenderReels()
	s += r.RenderWin()
	s += r.RenderStatus()
	s += r.RenderDialog()
	if u.err != nil {
		s += ErrorStyle.Render(fmt.Sprintf("Error: %v", u.err)) + "\n"
	}
	s += r.RenderHelp()
	return s
}

// Run starts the UI and blocks until the player quits.
func Run(ctx context.Context, game Game, opts Options) error {
	p := tea.NewProgram(NewSlotUI(ctx, game, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running UI: %w", err)
	}
	return nil
}
