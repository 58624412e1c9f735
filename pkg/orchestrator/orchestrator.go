// Package orchestrator sequences spins. It owns the bet, the balance shown
// to the player, the free round ledger and the autoplay session, and is the
// only place where a failed call turns into a decision.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/ledger"
	"github.com/vctt94/slotbisonrelay/pkg/metrics"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/statemachine"
	"github.com/vctt94/slotbisonrelay/pkg/storage"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSpinInFlight        = errors.New("spin already in flight")
	ErrBusy                = errors.New("spin cycle in progress")
	ErrAuthRequired        = errors.New("re-authentication required")
	ErrInvalidBet          = errors.New("invalid bet")
	ErrBonusActive         = errors.New("bonus sequence active")
	ErrNoFreeRounds        = errors.New("no free rounds left")
	ErrInvalidAutoplay     = errors.New("invalid autoplay count")
)

// SessionAPI is the part of the session client the orchestrator drives.
type SessionAPI interface {
	FetchBalance(ctx context.Context, timeout time.Duration) (decimal.Decimal, error)
	PlaceSpin(ctx context.Context, req session.SpinRequest, timeout time.Duration) (*session.SpinRecord, error)
	ClearToken()
}

const (
	DefaultSpinTimeout    = 15 * time.Second
	DefaultBalanceTimeout = 10 * time.Second
	DefaultLines          = 20
)

var (
	DefaultBuyFeatureMultiplier = decimal.NewFromInt(100)
	DefaultBigWinMultiplier     = decimal.NewFromInt(20)
)

// Config configures an Orchestrator. Only Session is required.
type Config struct {
	Session       SessionAPI
	Notifications *NotificationManager
	Ledger        *ledger.Ledger
	Scheduler     Scheduler
	Journal       storage.Journal
	Log           slog.Logger
	Metrics       *metrics.Collector

	Baseline    turbo.TimingProfile
	Multipliers turbo.Multipliers

	BetLadder          []decimal.Decimal
	BaseBet            decimal.Decimal
	Lines              int
	EnhancedMultiplier decimal.Decimal

	// BuyFeatureMultiplier times the base bet is the price of a bought
	// bonus.
	BuyFeatureMultiplier decimal.Decimal

	// BigWinMultiplier times the base bet is the smallest win that raises
	// the win dialog. Negative disables the dialog.
	BigWinMultiplier decimal.Decimal

	SpinTimeout    time.Duration
	BalanceTimeout time.Duration

	InitialBalance decimal.Decimal
	InitialGrid    session.Grid

	// Runner runs backend calls. Defaults to a new goroutine per call.
	Runner func(func())
}

// AutoplaySession is the running autoplay batch.
type AutoplaySession struct {
	SpinsRemaining    int
	IsFreeRoundFlavor bool
}

type spinKind int

const (
	spinPaid spinKind = iota
	spinInitFree
	spinBuyFeature
	spinBonus
	spinExhausted
)

func (k spinKind) String() string {
	switch k {
	case spinPaid:
		return "paid"
	case spinInitFree:
		return "init_free"
	case spinBuyFeature:
		return "buy_feature"
	case spinBonus:
		return "bonus"
	case spinExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

type trigger int

const (
	triggerManual trigger = iota
	triggerAutoplay
	triggerBuy
)

// spinContext follows one network spin from request to the end of its
// animation.
type spinContext struct {
	kind         spinKind
	charged      decimal.Decimal
	fromAutoplay bool
	record       *session.SpinRecord
}

// bonusRun steps through the items of a bonus block.
type bonusRun struct {
	block    *session.FreeSpinBlock
	bet      decimal.Decimal
	next     int
	playing  int
	totalWin decimal.Decimal
}

// uncredited is what the backend already counts in the balance but the
// player has not seen animate yet.
func (b *bonusRun) uncredited() decimal.Decimal {
	v := b.block.TotalWin.Sub(b.totalWin)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Snapshot is a read-only projection of the orchestrator.
type Snapshot struct {
	State             State
	Balance           decimal.Decimal
	Bet               BetState
	DisplayedBet      decimal.Decimal
	Turbo             bool
	Timing            turbo.TimingProfile
	Autoplay          *AutoplaySession
	InitFreeRounds    int
	BonusActive       bool
	BonusSpinsDisplay int
	DialogPending     bool
	LastGrid          session.Grid
}

// Orchestrator is the spin state machine. All methods are safe for
// concurrent use; collaborators are notified after the internal lock is
// released.
type Orchestrator struct {
	mtx sync.Mutex

	cfg     Config
	session SessionAPI
	ntfns   *NotificationManager
	sched   Scheduler
	journal storage.Journal
	log     slog.Logger
	metrics *metrics.Collector
	run     func(func())

	sm     *statemachine.StateMachine[State]
	ledger *ledger.Ledger
	scaler *turbo.Scaler
	ladder ladder

	bet           BetState
	balance       decimal.Decimal
	autoplay      *AutoplaySession
	dialogPending bool
	lastGrid      session.Grid

	// clamped counts balance updates that would have gone negative.
	clamped int

	spin  *spinContext
	bonus *bonusRun

	// spinEpoch changes when a spin starts; balance responses issued under
	// an older epoch are dropped.
	spinEpoch         uint64
	balanceSeq        uint64
	appliedBalanceSeq uint64
	syncSeq           uint64

	autoplayTimer Timer
	autoplayGen   uint64
	bonusTimer    Timer
	bonusGen      uint64

	pending []func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an orchestrator in the idle state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Notifications == nil {
		cfg.Notifications = NewNotificationManager()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.New()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Runner == nil {
		cfg.Runner = func(f func()) { go f() }
	}
	if cfg.Baseline == (turbo.TimingProfile{}) {
		cfg.Baseline = turbo.DefaultBaseline
	}
	if cfg.Lines <= 0 {
		cfg.Lines = DefaultLines
	}
	if !cfg.EnhancedMultiplier.IsPositive() {
		cfg.EnhancedMultiplier = DefaultEnhancedMultiplier
	}
	if !cfg.BuyFeatureMultiplier.IsPositive() {
		cfg.BuyFeatureMultiplier = DefaultBuyFeatureMultiplier
	}
	if cfg.BigWinMultiplier.IsZero() {
		cfg.BigWinMultiplier = DefaultBigWinMultiplier
	}
	if cfg.SpinTimeout <= 0 {
		cfg.SpinTimeout = DefaultSpinTimeout
	}
	if cfg.BalanceTimeout <= 0 {
		cfg.BalanceTimeout = DefaultBalanceTimeout
	}
	if cfg.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("initial balance %s is negative", cfg.InitialBalance)
	}

	bets := newLadder(cfg.BetLadder)
	base := cfg.BaseBet
	if !base.IsPositive() {
		if len(bets) == 0 {
			return nil, fmt.Errorf("%w: no base bet and empty ladder", ErrInvalidBet)
		}
		base = bets[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		session:  cfg.Session,
		ntfns:    cfg.Notifications,
		sched:    cfg.Scheduler,
		journal:  cfg.Journal,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		run:      cfg.Runner,
		sm:       newStateMachine(),
		ledger:   cfg.Ledger,
		scaler:   turbo.NewScaler(cfg.Baseline, cfg.Multipliers),
		ladder:   bets,
		bet:      BetState{BaseBet: base, multiplier: cfg.EnhancedMultiplier},
		balance:  cfg.InitialBalance,
		lastGrid: cfg.InitialGrid.Clone(),
		ctx:      ctx,
		cancel:   cancel,
	}
	o.sm.OnTransition(o.onTransition)
	return o, nil
}

// onTransition runs with o.mtx held.
func (o *Orchestrator) onTransition(from, to State) {
	o.log.Debugf("State %s -> %s", from, to)
	o.metrics.Transition(from.String(), to.String())
	o.queue(func() { o.ntfns.notifyStateChanged(from, to) })
}

func (o *Orchestrator) transition(to State) {
	if err := o.sm.Transition(to); err != nil {
		o.log.Errorf("Unexpected transition: %v", err)
	}
}

// queue defers f until the lock is released. Called with o.mtx held.
func (o *Orchestrator) queue(f func()) {
	o.pending = append(o.pending, f)
}

// flush runs the deferred work. Called without o.mtx held.
func (o *Orchestrator) flush() {
	for {
		o.mtx.Lock()
		p := o.pending
		o.pending = nil
		o.mtx.Unlock()
		if len(p) == 0 {
			return
		}
		for _, f := range p {
			f()
		}
	}
}

// locked runs f under the lock and then dispatches what it queued.
func (o *Orchestrator) locked(f func() error) error {
	o.mtx.Lock()
	err := f()
	o.mtx.Unlock()
	o.flush()
	return err
}

// Close cancels pending timers and outstanding calls.
func (o *Orchestrator) Close() {
	o.mtx.Lock()
	o.cancel()
	o.autoplayGen++
	o.bonusGen++
	if o.autoplayTimer != nil {
		o.autoplayTimer.Stop()
	}
	if o.bonusTimer != nil {
		o.bonusTimer.Stop()
	}
	o.mtx.Unlock()
}

// Notifications returns the manager collaborators register with.
func (o *Orchestrator) Notifications() *NotificationManager {
	return o.ntfns
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.sm.Current()
}

// Snapshot returns the current read-only projection.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	s := Snapshot{
		State:             o.sm.Current(),
		Balance:           o.balance,
		Bet:               o.bet,
		DisplayedBet:      o.bet.Displayed(),
		Turbo:             o.scaler.Enabled(),
		Timing:            o.scaler.Profile(),
		InitFreeRounds:    o.ledger.RemainingInitFreeSpins(),
		BonusActive:       o.bonus != nil,
		BonusSpinsDisplay: o.ledger.BonusDisplay(),
		DialogPending:     o.dialogPending,
		LastGrid:          o.lastGrid.Clone(),
	}
	if o.autoplay != nil {
		a := *o.autoplay
		s.Autoplay = &a
	}
	return s
}

// ApplyInitialization loads the init free rounds. When they were granted at
// a specific bet, the base bet moves to it.
func (o *Orchestrator) ApplyInitialization(p *session.InitializationPayload) {
	o.locked(func() error {
		if !o.ledger.InitFrom(p) {
			return nil
		}
		if bet, ok := o.ledger.InitFreeSpinBet(); ok && bet.IsPositive() &&
			o.ledger.HasInitFreeRounds() && !bet.Equal(o.bet.BaseBet) {

			o.bet = o.bet.withBase(bet)
			o.queueBetChanged()
		}
		o.log.Infof("Init free rounds: %d", o.ledger.RemainingInitFreeSpins())
		o.queueFreeRoundCount(o.ledger.RemainingInitFreeSpins())
		return nil
	})
}

// Spin is the manual spin intent.
func (o *Orchestrator) Spin() error {
	return o.locked(func() error { return o.startSpinLocked(triggerManual) })
}

// BuyFeature buys a bonus at BuyFeatureMultiplier times the base bet.
func (o *Orchestrator) BuyFeature() error {
	return o.locked(func() error { return o.startSpinLocked(triggerBuy) })
}

// BuyFeaturePrice is the current price of a bought bonus.
func (o *Orchestrator) BuyFeaturePrice() decimal.Decimal {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.bet.BaseBet.Mul(o.cfg.BuyFeatureMultiplier)
}

func (o *Orchestrator) startSpinLocked(tr trigger) error {
	st := o.sm.Current()
	switch {
	case st == StateErrorAuth:
		return ErrAuthRequired
	case st == StateRequestInFlight:
		return ErrSpinInFlight
	case o.bonus != nil || st == StateBonusSequenceActive:
		return ErrBonusActive
	case tr == triggerAutoplay && st != StateAutoplayScheduled:
		return ErrBusy
	case tr != triggerAutoplay && st != StateIdle:
		return ErrBusy
	}

	sc := &spinContext{fromAutoplay: tr == triggerAutoplay}
	req := session.SpinRequest{Bet: o.bet.BaseBet, Line: o.cfg.Lines}
	switch {
	case tr == triggerBuy:
		sc.kind = spinBuyFeature
		sc.charged = o.bet.BaseBet.Mul(o.cfg.BuyFeatureMultiplier)
		req.IsBuyFeature = true
	case o.ledger.HasInitFreeRounds():
		sc.kind = spinInitFree
		sc.charged = decimal.Zero
		req.IsInitFreeRound = true
	default:
		sc.kind = spinPaid
		sc.charged = o.bet.Displayed()
		req.IsEnhanced = o.bet.IsEnhanced
	}

	// Free rounds charge nothing but still need the displayed bet covered.
	need := sc.charged
	if sc.kind != spinBuyFeature {
		need = o.bet.Displayed()
	}
	if need.GreaterThan(o.balance) {
		o.log.Infof("Spin refused: needs %s, balance %s", need, o.balance)
		o.metrics.SpinFailed("insufficient_balance")
		o.stopAutoplayLocked("insufficient balance")
		o.queue(o.ntfns.notifyInsufficientBalance)
		return ErrInsufficientBalance
	}

	o.dialogPending = false
	o.spinEpoch++
	epoch := o.spinEpoch
	o.spin = sc
	o.transition(StateRequestInFlight)
	o.log.Debugf("Placing %s spin (epoch %d, bet %s)", sc.kind, epoch, req.Bet)

	timeout := o.cfg.SpinTimeout
	o.queue(func() {
		o.run(func() {
			rec, err := o.session.PlaceSpin(o.ctx, req, timeout)
			o.locked(func() error {
				o.applySpinResultLocked(epoch, rec, err)
				return nil
			})
		})
	})
	return nil
}

func isAuthFailure(err error) bool {
	return errors.Is(err, session.ErrAuthExpired) || errors.Is(err, session.ErrNotAuthenticated)
}

func failureLabel(err error) string {
	if k := session.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

func (o *Orchestrator) applySpinResultLocked(epoch uint64, rec *session.SpinRecord, err error) {
	if epoch != o.spinEpoch || o.spin == nil || !o.sm.Is(StateRequestInFlight) {
		o.log.Warnf("Dropping spin result of epoch %d in state %s", epoch, o.sm.Current())
		return
	}
	sc := o.spin

	if err != nil {
		o.spin = nil
		if isAuthFailure(err) {
			o.enterAuthErrorLocked(err)
			return
		}
		o.log.Warnf("Spin failed: %v", err)
		o.metrics.SpinFailed(failureLabel(err))
		o.transition(StateIdle)
		o.stopAutoplayLocked("spin failed")
		o.queue(func() { o.ntfns.notifyNetworkError(err) })
		return
	}

	if rec == nil {
		o.log.Infof("Free rounds exhausted, replaying last grid")
		rec = session.NoOpRecord(o.lastGrid, o.bet.BaseBet)
		sc.kind = spinExhausted
		sc.charged = decimal.Zero
		o.ledger.EndInitFreeRounds()
		if o.autoplay != nil && o.autoplay.IsFreeRoundFlavor {
			o.stopAutoplayLocked("free rounds exhausted")
		}
		o.queueFreeRoundCount(0)
	} else {
		if sc.kind == spinInitFree {
			o.ledger.ConsumeInitRound()
			o.queueFreeRoundCount(o.ledger.RemainingInitFreeSpins())
		}
		if sc.charged.IsPositive() {
			o.setBalanceLocked(o.balance.Sub(sc.charged))
		}
		if rec.HasBonus() {
			o.bonus = &bonusRun{block: rec.FreeSpinBlock, bet: o.bet.BaseBet, playing: -1}
		}
	}

	sc.record = rec
	o.beginAnimationLocked(rec, sc.fromAutoplay, sc.kind)
}

func (o *Orchestrator) beginAnimationLocked(rec *session.SpinRecord, fromAutoplay bool, kind spinKind) {
	o.transition(StateReelAnimating)
	if len(rec.Grid) > 0 {
		o.lastGrid = rec.Grid.Clone()
	}
	if fromAutoplay && o.autoplay != nil && o.autoplay.SpinsRemaining > 0 {
		o.autoplay.SpinsRemaining--
		o.queueAutoplayChanged()
	}
	o.metrics.SpinStarted(kind.String())
	profile := o.scaler.Profile()
	o.queue(func() { o.ntfns.notifySpinResult(rec, profile) })
}

// ReportAnimationComplete is called by the reel renderer when the grid it
// was handed has finished animating.
func (o *Orchestrator) ReportAnimationComplete() {
	o.locked(func() error {
		o.animationCompleteLocked()
		return nil
	})
}

func (o *Orchestrator) animationCompleteLocked() {
	if !o.sm.Is(StateReelAnimating) {
		o.log.Debugf("Animation complete ignored in state %s", o.sm.Current())
		return
	}
	if o.bonus != nil && o.bonus.playing >= 0 {
		o.bonusItemDoneLocked()
		return
	}

	sc := o.spin
	o.spin = nil
	if sc == nil || sc.record == nil {
		o.log.Errorf("Animation complete without a spin")
		o.startBalanceSyncLocked()
		return
	}

	win := sc.record.Win()
	if win.IsPositive() {
		o.setBalanceLocked(o.balance.Add(win))
		o.maybeWinDialogLocked(win)
	}
	o.journalLocked(sc.kind, sc.charged, win)
	o.startBalanceSyncLocked()
}

func (o *Orchestrator) startBalanceSyncLocked() {
	o.transition(StateBalanceSyncing)
	o.balanceSeq++
	o.syncSeq = o.balanceSeq
	o.fetchBalanceLocked(o.balanceSeq, true)
}

// RefreshBalance fetches the authoritative balance outside a spin cycle.
func (o *Orchestrator) RefreshBalance() error {
	return o.locked(func() error {
		switch o.sm.Current() {
		case StateErrorAuth:
			return ErrAuthRequired
		case StateIdle, StateAutoplayScheduled:
		default:
			return ErrBusy
		}
		o.refreshBalanceLocked()
		return nil
	})
}

func (o *Orchestrator) refreshBalanceLocked() {
	o.balanceSeq++
	o.fetchBalanceLocked(o.balanceSeq, false)
}

func (o *Orchestrator) fetchBalanceLocked(seq uint64, sync bool) {
	epoch := o.spinEpoch
	timeout := o.cfg.BalanceTimeout
	o.queue(func() {
		o.run(func() {
			bal, err := o.session.FetchBalance(o.ctx, timeout)
			o.locked(func() error {
				o.applyBalanceLocked(seq, epoch, sync, bal, err)
				return nil
			})
		})
	})
}

func (o *Orchestrator) applyBalanceLocked(seq, epoch uint64, sync bool, bal decimal.Decimal, err error) {
	if epoch != o.spinEpoch {
		o.log.Debugf("Dropping balance response %d: a spin started since", seq)
		return
	}
	waiting := sync && seq == o.syncSeq && o.sm.Is(StateBalanceSyncing)

	if err != nil {
		if isAuthFailure(err) {
			o.enterAuthErrorLocked(err)
			return
		}
		o.log.Warnf("Balance fetch failed: %v", err)
		o.queue(func() { o.ntfns.notifyNetworkError(err) })
		if waiting {
			o.stopAutoplayLocked("balance fetch failed")
			o.afterSyncLocked()
		}
		return
	}

	if seq > o.appliedBalanceSeq {
		o.appliedBalanceSeq = seq
		v := bal
		if o.bonus != nil {
			v = v.Sub(o.bonus.uncredited())
			if v.IsNegative() {
				o.log.Debugf("Balance %s does not include the bonus yet", bal)
				v = decimal.Zero
			}
		}
		o.setBalanceLocked(v)
	} else {
		o.log.Debugf("Dropping out of order balance response %d (applied %d)",
			seq, o.appliedBalanceSeq)
	}

	if waiting {
		o.afterSyncLocked()
	}
}

func (o *Orchestrator) afterSyncLocked() {
	if o.bonus != nil {
		o.enterBonusLocked()
		return
	}
	if o.autoplayContinuesLocked() {
		o.scheduleAutoplayLocked()
		return
	}
	o.transition(StateIdle)
	o.finishAutoplayIfDoneLocked()
}

func (o *Orchestrator) setBalanceLocked(v decimal.Decimal) {
	if v.IsNegative() {
		o.log.Errorf("Balance would go negative (%s), clamping", v)
		o.clamped++
		v = decimal.Zero
	}
	o.balance = v
	o.queue(func() { o.ntfns.notifyBalanceChanged(v) })
}

func (o *Orchestrator) maybeWinDialogLocked(win decimal.Decimal) {
	m := o.cfg.BigWinMultiplier
	if !m.IsPositive() || !win.IsPositive() {
		return
	}
	if win.LessThan(o.bet.BaseBet.Mul(m)) {
		return
	}
	o.dialogPending = true
	o.queue(func() { o.ntfns.notifyWinDialog(win) })
}

// ReportDialogDismissed is called by the dialog presenter once the player
// closed the win dialog.
func (o *Orchestrator) ReportDialogDismissed() {
	o.locked(func() error {
		if !o.dialogPending {
			return nil
		}
		o.dialogPending = false
		switch o.sm.Current() {
		case StateBonusSequenceActive:
			if o.bonus != nil {
				o.scheduleBonusStepLocked()
			}
		case StateIdle:
			if o.autoplayContinuesLocked() {
				o.scheduleAutoplayLocked()
			} else {
				o.finishAutoplayIfDoneLocked()
			}
		}
		return nil
	})
}

// Bonus sequence.

func (o *Orchestrator) enterBonusLocked() {
	b := o.bonus
	o.transition(StateBonusSequenceActive)
	o.ledger.StartBonus(b.block.Items[0].SpinsLeft + 1)
	o.log.Infof("Bonus started: %d items, total %s", len(b.block.Items), b.block.TotalWin)
	o.queueFreeRoundCount(o.ledger.TakeBonusDisplay())
	if !o.dialogPending {
		o.scheduleBonusStepLocked()
	}
}

func (o *Orchestrator) scheduleBonusStepLocked() {
	o.bonusGen++
	gen := o.bonusGen
	delay := o.scaler.Profile().InterSpinDelay
	o.bonusTimer = o.sched.AfterFunc(delay, func() { o.bonusTick(gen) })
}

func (o *Orchestrator) bonusTick(gen uint64) {
	o.locked(func() error {
		if gen != o.bonusGen || o.bonus == nil || o.dialogPending ||
			!o.sm.Is(StateBonusSequenceActive) {
			return nil
		}
		o.bonusTimer = nil
		o.playBonusItemLocked()
		return nil
	})
}

func (o *Orchestrator) playBonusItemLocked() {
	b := o.bonus
	if b.next >= len(b.block.Items) {
		o.endBonusLocked()
		return
	}
	idx := b.next
	item := &b.block.Items[idx]
	b.playing = idx
	b.next++

	o.ledger.SyncBonusFromRecord(b.block, item.Grid)
	o.queueFreeRoundCount(o.ledger.TakeBonusDisplay())

	rec := &session.SpinRecord{Bet: b.bet, Grid: item.Grid, Paylines: item.Paylines}
	o.beginAnimationLocked(rec, false, spinBonus)
}

func (o *Orchestrator) bonusItemDoneLocked() {
	b := o.bonus
	items := b.block.Items
	item := &items[b.playing]

	win := item.Win()
	if win.IsPositive() {
		b.totalWin = b.totalWin.Add(win)
		o.setBalanceLocked(o.balance.Add(win))
	}
	o.journalLocked(spinBonus, decimal.Zero, win)

	// A following item that has as many spins left as this one means the
	// player won more spins on this one.
	if b.playing+1 < len(items) && items[b.playing+1].SpinsLeft >= item.SpinsLeft {
		n := items[b.playing+1].SpinsLeft - item.SpinsLeft + 1
		o.ledger.ApplyRetriggerBonus(n)
		o.log.Infof("Retrigger: +%d free spins", n)
		o.queueFreeRoundCount(o.ledger.TakeBonusDisplay())
		o.queue(func() { o.ntfns.notifyRetrigger(n) })
	}

	b.playing = -1
	o.transition(StateBonusSequenceActive)
	if b.next >= len(items) {
		o.endBonusLocked()
		return
	}
	if !o.dialogPending {
		o.scheduleBonusStepLocked()
	}
}

func (o *Orchestrator) endBonusLocked() {
	total := o.bonus.totalWin
	o.bonus = nil
	o.bonusGen++
	o.ledger.EndBonus()
	o.transition(StateIdle)
	o.log.Infof("Bonus ended, won %s", total)

	o.queue(func() { o.ntfns.notifyBonusSequenceEnded(total) })
	o.queueFreeRoundCount(o.ledger.RemainingInitFreeSpins())
	o.maybeWinDialogLocked(total)
	o.refreshBalanceLocked()

	if o.autoplayContinuesLocked() {
		o.scheduleAutoplayLocked()
	} else {
		o.finishAutoplayIfDoneLocked()
	}
}

// Autoplay.

// StartAutoplay starts a batch of n spins.
func (o *Orchestrator) StartAutoplay(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAutoplay, n)
	}
	return o.locked(func() error { return o.startAutoplayLocked(n, false) })
}

// StartFreeRoundAutoplay plays the remaining init free rounds back to back.
func (o *Orchestrator) StartFreeRoundAutoplay() error {
	return o.locked(func() error {
		n := o.ledger.RemainingInitFreeSpins()
		if n <= 0 {
			return ErrNoFreeRounds
		}
		return o.startAutoplayLocked(n, true)
	})
}

func (o *Orchestrator) startAutoplayLocked(n int, freeRounds bool) error {
	if o.sm.Is(StateErrorAuth) {
		return ErrAuthRequired
	}
	if o.autoplay != nil {
		return fmt.Errorf("%w: autoplay already running", ErrBusy)
	}

	o.autoplay = &AutoplaySession{SpinsRemaining: n, IsFreeRoundFlavor: freeRounds}
	o.log.Infof("Autoplay started: %d spins (free rounds: %v)", n, freeRounds)
	o.queueAutoplayChanged()

	// Outside idle the running cycle picks autoplay up when it settles.
	if !o.sm.Is(StateIdle) || o.dialogPending {
		return nil
	}
	o.transition(StateAutoplayScheduled)
	if err := o.startSpinLocked(triggerAutoplay); err != nil {
		o.stopAutoplayLocked(err.Error())
		return err
	}
	return nil
}

// StopAutoplay ends the autoplay batch. A pending timer is cancelled; a spin
// already in flight still lands but schedules nothing after it.
func (o *Orchestrator) StopAutoplay() {
	o.locked(func() error {
		o.stopAutoplayLocked("stopped by player")
		return nil
	})
}

func (o *Orchestrator) stopAutoplayLocked(reason string) {
	o.autoplayGen++
	if o.autoplayTimer != nil {
		o.autoplayTimer.Stop()
		o.autoplayTimer = nil
	}
	if o.autoplay != nil {
		o.autoplay = nil
		o.log.Infof("Autoplay stopped: %s", reason)
		o.queueAutoplayChanged()
	}
	if o.sm.Is(StateAutoplayScheduled) {
		o.transition(StateIdle)
	}
}

func (o *Orchestrator) autoplayContinuesLocked() bool {
	a := o.autoplay
	if a == nil || o.dialogPending || a.SpinsRemaining <= 0 {
		return false
	}
	if a.IsFreeRoundFlavor && !o.ledger.HasInitFreeRounds() {
		return false
	}
	return true
}

func (o *Orchestrator) finishAutoplayIfDoneLocked() {
	a := o.autoplay
	if a == nil || o.dialogPending {
		return
	}
	if a.SpinsRemaining > 0 && !(a.IsFreeRoundFlavor && !o.ledger.HasInitFreeRounds()) {
		return
	}
	o.autoplay = nil
	o.log.Infof("Autoplay finished")
	o.queueAutoplayChanged()
}

func (o *Orchestrator) scheduleAutoplayLocked() {
	o.transition(StateAutoplayScheduled)
	o.autoplayGen++
	gen := o.autoplayGen
	delay := o.scaler.Profile().InterSpinDelay
	o.autoplayTimer = o.sched.AfterFunc(delay, func() { o.autoplayTick(gen) })
}

func (o *Orchestrator) autoplayTick(gen uint64) {
	o.locked(func() error {
		if gen != o.autoplayGen || o.autoplay == nil || !o.sm.Is(StateAutoplayScheduled) {
			return nil
		}
		o.autoplayTimer = nil
		if err := o.startSpinLocked(triggerAutoplay); err != nil {
			o.stopAutoplayLocked(err.Error())
		}
		return nil
	})
}

// Authentication.

func (o *Orchestrator) enterAuthErrorLocked(err error) {
	o.log.Warnf("Session rejected: %v", err)
	o.metrics.SpinFailed("auth_expired")
	o.spin = nil
	if o.bonus != nil {
		o.bonus = nil
		o.ledger.EndBonus()
	}
	o.bonusGen++
	if o.bonusTimer != nil {
		o.bonusTimer.Stop()
		o.bonusTimer = nil
	}
	o.dialogPending = false
	o.transition(StateErrorAuth)
	o.stopAutoplayLocked("session expired")
	o.queue(o.session.ClearToken)
	o.queue(o.ntfns.notifyAuthExpired)
}

// Reauthenticated leaves the auth error state once the external flow has
// established a new session.
func (o *Orchestrator) Reauthenticated() {
	o.locked(func() error {
		if !o.sm.Is(StateErrorAuth) {
			return nil
		}
		o.transition(StateIdle)
		o.refreshBalanceLocked()
		return nil
	})
}

// Flags.

// SetTurbo switches turbo and returns the timing now in effect.
func (o *Orchestrator) SetTurbo(on bool) turbo.TimingProfile {
	var profile turbo.TimingProfile
	o.locked(func() error {
		if o.scaler.Enabled() == on {
			profile = o.scaler.Profile()
			return nil
		}
		profile = o.scaler.Set(on)
		o.log.Debugf("Turbo %v", on)
		o.queue(func() { o.ntfns.notifyTimingChanged(profile) })
		return nil
	})
	return profile
}

func (o *Orchestrator) betChangeAllowedLocked() error {
	switch {
	case o.sm.Is(StateRequestInFlight):
		return ErrSpinInFlight
	case o.bonus != nil || o.sm.Is(StateBonusSequenceActive):
		return ErrBonusActive
	}
	return nil
}

// SetEnhanced switches the enhanced bet.
func (o *Orchestrator) SetEnhanced(on bool) error {
	return o.locked(func() error {
		if err := o.betChangeAllowedLocked(); err != nil {
			return err
		}
		if o.bet.IsEnhanced == on {
			return nil
		}
		o.bet.IsEnhanced = on
		o.queueBetChanged()
		return nil
	})
}

// SetBaseBet sets the base bet. Any bet change turns the enhanced bet off.
func (o *Orchestrator) SetBaseBet(bet decimal.Decimal) error {
	if !bet.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidBet, bet)
	}
	return o.locked(func() error {
		if err := o.betChangeAllowedLocked(); err != nil {
			return err
		}
		o.bet = o.bet.withBase(bet)
		o.queueBetChanged()
		return nil
	})
}

// IncreaseBet moves the base bet one step up the ladder.
func (o *Orchestrator) IncreaseBet() error {
	return o.stepBet(ladder.next)
}

// DecreaseBet moves the base bet one step down the ladder.
func (o *Orchestrator) DecreaseBet() error {
	return o.stepBet(ladder.prev)
}

func (o *Orchestrator) stepBet(step func(ladder, decimal.Decimal) (decimal.Decimal, bool)) error {
	return o.locked(func() error {
		if err := o.betChangeAllowedLocked(); err != nil {
			return err
		}
		bet, ok := step(o.ladder, o.bet.BaseBet)
		if !ok {
			return fmt.Errorf("%w: end of bet ladder", ErrInvalidBet)
		}
		o.bet = o.bet.withBase(bet)
		o.queueBetChanged()
		return nil
	})
}

// Helpers queuing notifications. Called with o.mtx held.

func (o *Orchestrator) queueFreeRoundCount(n int) {
	o.queue(func() { o.ntfns.notifyFreeRoundCountChanged(n) })
}

func (o *Orchestrator) queueAutoplayChanged() {
	remaining, active := 0, false
	if o.autoplay != nil {
		remaining, active = o.autoplay.SpinsRemaining, true
	}
	o.queue(func() { o.ntfns.notifyAutoplayChanged(remaining, active) })
}

func (o *Orchestrator) queueBetChanged() {
	bet := o.bet
	o.queue(func() { o.ntfns.notifyBetChanged(bet) })
}

func (o *Orchestrator) journalLocked(kind spinKind, charged, win decimal.Decimal) {
	if o.journal == nil {
		return
	}
	e := storage.SpinEntry{
		Kind:      kind.String(),
		Bet:       charged,
		Win:       win,
		Balance:   o.balance,
		CreatedAt: time.Now(),
	}
	j := o.journal
	o.queue(func() {
		if err := j.AppendSpin(e); err != nil {
			o.log.Warnf("Unable to journal spin: %v", err)
		}
	})
}
