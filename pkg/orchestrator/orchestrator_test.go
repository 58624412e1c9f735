package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/storage"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type spinReply struct {
	rec *session.SpinRecord
	err error
}

// fakeSession answers from queued replies. Without a queued reply a spin
// returns an empty grid and a balance fetch returns the last balance set.
type fakeSession struct {
	mtx      sync.Mutex
	spins    []spinReply
	balances []spinBalance
	balance  decimal.Decimal
	requests []session.SpinRequest
	fetches  int
	cleared  int

	onSpin func(session.SpinRequest) (*session.SpinRecord, error)
}

type spinBalance struct {
	v   decimal.Decimal
	err error
}

func (f *fakeSession) queueSpin(rec *session.SpinRecord, err error) {
	f.mtx.Lock()
	f.spins = append(f.spins, spinReply{rec, err})
	f.mtx.Unlock()
}

func (f *fakeSession) queueBalance(v decimal.Decimal, err error) {
	f.mtx.Lock()
	f.balances = append(f.balances, spinBalance{v, err})
	f.mtx.Unlock()
}

func (f *fakeSession) PlaceSpin(_ context.Context, req session.SpinRequest, _ time.Duration) (*session.SpinRecord, error) {
	f.mtx.Lock()
	f.requests = append(f.requests, req)
	onSpin := f.onSpin
	if onSpin != nil {
		f.mtx.Unlock()
		return onSpin(req)
	}
	defer f.mtx.Unlock()
	if len(f.spins) == 0 {
		return &session.SpinRecord{Bet: req.Bet, Grid: session.Grid{{1, 2, 3}}}, nil
	}
	r := f.spins[0]
	f.spins = f.spins[1:]
	return r.rec, r.err
}

func (f *fakeSession) FetchBalance(context.Context, time.Duration) (decimal.Decimal, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.fetches++
	if len(f.balances) == 0 {
		return f.balance, nil
	}
	b := f.balances[0]
	f.balances = f.balances[1:]
	return b.v, b.err
}

func (f *fakeSession) ClearToken() {
	f.mtx.Lock()
	f.cleared++
	f.mtx.Unlock()
}

func (f *fakeSession) spinCalls() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.requests)
}

func (f *fakeSession) lastRequest() session.SpinRequest {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.requests[len(f.requests)-1]
}

// manualRunner holds backend calls until the test drains them.
type manualRunner struct {
	mtx  sync.Mutex
	jobs []func()
}

func (r *manualRunner) run(f func()) {
	r.mtx.Lock()
	r.jobs = append(r.jobs, f)
	r.mtx.Unlock()
}

func (r *manualRunner) pending() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.jobs)
}

// runAt runs the i-th held call alone.
func (r *manualRunner) runAt(i int) {
	r.mtx.Lock()
	f := r.jobs[i]
	r.jobs = append(r.jobs[:i:i], r.jobs[i+1:]...)
	r.mtx.Unlock()
	f()
}

func (r *manualRunner) drain() {
	for r.pending() > 0 {
		r.runAt(0)
	}
}

type manualTimer struct {
	f       func()
	d       time.Duration
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler fires timers only when asked to.
type manualScheduler struct {
	mtx    sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{f: f, d: d}
	s.mtx.Lock()
	s.timers = append(s.timers, t)
	s.mtx.Unlock()
	return t
}

func (s *manualScheduler) live() []*manualTimer {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var live []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	return live
}

func (s *manualScheduler) fire() int {
	live := s.live()
	for _, t := range live {
		t.fired = true
		t.f()
	}
	return len(live)
}

type recorder struct {
	mtx          sync.Mutex
	states       []State
	results      []*session.SpinRecord
	profiles     []turbo.TimingProfile
	freeCounts   []int
	balances     []decimal.Decimal
	authExpired  int
	insufficient int
	bonusEnded   []decimal.Decimal
	dialogs      []decimal.Decimal
	retriggers   []int
	netErrs      []error
	autoplay     [][2]int
	bets         []BetState
	timings      []turbo.TimingProfile
}

func (r *recorder) register(n *NotificationManager) {
	n.RegisterSync(OnStateChangedNtfn(func(_, to State) {
		r.mtx.Lock()
		r.states = append(r.states, to)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnSpinResultNtfn(func(rec *session.SpinRecord, p turbo.TimingProfile) {
		r.mtx.Lock()
		r.results = append(r.results, rec)
		r.profiles = append(r.profiles, p)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnFreeRoundCountChangedNtfn(func(c int) {
		r.mtx.Lock()
		r.freeCounts = append(r.freeCounts, c)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnBalanceChangedNtfn(func(b decimal.Decimal) {
		r.mtx.Lock()
		r.balances = append(r.balances, b)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnAuthExpiredNtfn(func() {
		r.mtx.Lock()
		r.authExpired++
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnInsufficientBalanceNtfn(func() {
		r.mtx.Lock()
		r.insufficient++
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnBonusSequenceEndedNtfn(func(total decimal.Decimal) {
		r.mtx.Lock()
		r.bonusEnded = append(r.bonusEnded, total)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnWinDialogNtfn(func(win decimal.Decimal) {
		r.mtx.Lock()
		r.dialogs = append(r.dialogs, win)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnRetriggerNtfn(func(c int) {
		r.mtx.Lock()
		r.retriggers = append(r.retriggers, c)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnNetworkErrorNtfn(func(err error) {
		r.mtx.Lock()
		r.netErrs = append(r.netErrs, err)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnAutoplayChangedNtfn(func(remaining int, active bool) {
		a := 0
		if active {
			a = 1
		}
		r.mtx.Lock()
		r.autoplay = append(r.autoplay, [2]int{remaining, a})
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnBetChangedNtfn(func(b BetState) {
		r.mtx.Lock()
		r.bets = append(r.bets, b)
		r.mtx.Unlock()
	}))
	n.RegisterSync(OnTimingChangedNtfn(func(p turbo.TimingProfile) {
		r.mtx.Lock()
		r.timings = append(r.timings, p)
		r.mtx.Unlock()
	}))
}

type harness struct {
	o      *Orchestrator
	sess   *fakeSession
	runner *manualRunner
	sched  *manualScheduler
	rec    *recorder
}

func newHarness(t require.TestingT, mutate func(*Config)) *harness {
	h := &harness{
		sess:   &fakeSession{},
		runner: &manualRunner{},
		sched:  &manualScheduler{},
		rec:    &recorder{},
	}
	cfg := Config{
		Session:        h.sess,
		Scheduler:      h.sched,
		Runner:         h.runner.run,
		BaseBet:        d("1.00"),
		InitialBalance: d("100.00"),
		InitialGrid:    session.Grid{{9, 9, 9}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.sess.balance = cfg.InitialBalance
	o, err := New(cfg)
	require.NoError(t, err)
	h.o = o
	h.rec.register(o.Notifications())
	return h
}

func (h *harness) balance() decimal.Decimal { return h.o.Snapshot().Balance }

func TestInsufficientBalanceMakesNoCall(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.InitialBalance = d("5.00")
		c.BaseBet = d("10.00")
	})

	err := h.o.Spin()
	require.ErrorIs(t, err, ErrInsufficientBalance)
	h.runner.drain()

	assert.Zero(t, h.sess.spinCalls())
	assert.True(t, h.balance().Equal(d("5.00")))
	assert.Equal(t, StateIdle, h.o.State())
	assert.Equal(t, 1, h.rec.insufficient)
}

func TestFreeRoundNeedsDisplayedBetCovered(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.InitialBalance = d("0")
		c.BaseBet = d("10.00")
	})
	count := 2
	p := &session.InitializationPayload{HasFreeSpinRound: true, FreeSpinCount: &count}
	p.Normalize()
	h.o.ApplyInitialization(p)

	require.ErrorIs(t, h.o.Spin(), ErrInsufficientBalance)
	require.ErrorIs(t, h.o.StartFreeRoundAutoplay(), ErrInsufficientBalance)
	h.runner.drain()

	snap := h.o.Snapshot()
	assert.Zero(t, h.sess.spinCalls())
	assert.Equal(t, 2, snap.InitFreeRounds)
	assert.Nil(t, snap.Autoplay)
	assert.Equal(t, StateIdle, snap.State)

	// Covered, the free round goes out and debits nothing.
	h2 := newHarness(t, func(c *Config) {
		c.InitialBalance = d("10.00")
		c.BaseBet = d("10.00")
	})
	h2.o.ApplyInitialization(p)
	require.NoError(t, h2.o.Spin())
	h2.runner.drain()
	assert.True(t, h2.sess.lastRequest().IsInitFreeRound)
	assert.True(t, h2.balance().Equal(d("10.00")))
}

func TestBalanceClampIsCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.o.mtx.Lock()
	h.o.setBalanceLocked(d("-1"))
	clamped, bal := h.o.clamped, h.o.balance
	h.o.mtx.Unlock()

	assert.Equal(t, 1, clamped)
	assert.True(t, bal.IsZero())
}

func TestEnhancedBetGuardsOnDisplayedBet(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.InitialBalance = d("1.10")
	})
	require.NoError(t, h.o.SetEnhanced(true))
	require.ErrorIs(t, h.o.Spin(), ErrInsufficientBalance)

	require.NoError(t, h.o.SetEnhanced(false))
	require.NoError(t, h.o.Spin())
	h.runner.drain()
	assert.False(t, h.sess.lastRequest().IsEnhanced)
	assert.True(t, h.balance().Equal(d("0.10")))
}

func TestEnhancedRequestUsesBaseBet(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.SetEnhanced(true))
	require.NoError(t, h.o.Spin())
	h.runner.drain()

	req := h.sess.lastRequest()
	assert.True(t, req.Bet.Equal(d("1.00")))
	assert.True(t, req.IsEnhanced)
	assert.True(t, h.balance().Equal(d("98.75")))
}

func TestAutoplayClearedOnNetworkError(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.queueSpin(nil, &session.Error{Kind: session.KindNetwork, Op: "spin"})

	require.NoError(t, h.o.StartAutoplay(3))
	assert.Equal(t, StateRequestInFlight, h.o.State())
	h.runner.drain()

	snap := h.o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Autoplay)
	assert.Empty(t, h.sched.live())
	assert.Equal(t, 1, h.sess.spinCalls())
	assert.True(t, snap.Balance.Equal(d("100.00")))
	require.Len(t, h.rec.netErrs, 1)
	assert.ErrorIs(t, h.rec.netErrs[0], session.ErrNetwork)

	// Started at 3 and cleared; never decremented.
	assert.Equal(t, [][2]int{{3, 1}, {0, 0}}, h.rec.autoplay)
}

func TestFreeRoundExhaustionPlaysNoOp(t *testing.T) {
	h := newHarness(t, nil)
	count := 2
	p := &session.InitializationPayload{HasFreeSpinRound: true, FreeSpinCount: &count}
	p.Normalize()
	h.o.ApplyInitialization(p)
	require.Equal(t, 2, h.o.Snapshot().InitFreeRounds)

	h.sess.queueSpin(nil, nil)
	require.NoError(t, h.o.Spin())
	h.runner.drain()

	assert.True(t, h.sess.lastRequest().IsInitFreeRound)
	assert.Equal(t, StateReelAnimating, h.o.State())
	require.Len(t, h.rec.results, 1)
	rec := h.rec.results[0]
	assert.True(t, rec.Synthetic)
	assert.True(t, rec.Grid.Equal(session.Grid{{9, 9, 9}}))
	assert.Empty(t, rec.Paylines)

	snap := h.o.Snapshot()
	assert.Zero(t, snap.InitFreeRounds)
	assert.Equal(t, 0, h.rec.freeCounts[len(h.rec.freeCounts)-1])
	assert.True(t, snap.Balance.Equal(d("100.00")))

	h.o.ReportAnimationComplete()
	assert.Equal(t, StateBalanceSyncing, h.o.State())
	h.runner.drain()
	assert.Equal(t, StateIdle, h.o.State())

	// The next spin is paid.
	require.NoError(t, h.o.Spin())
	h.runner.drain()
	assert.False(t, h.sess.lastRequest().IsInitFreeRound)
	assert.True(t, h.balance().Equal(d("99.00")))
}

func TestInitFreeRoundsConsumedSilently(t *testing.T) {
	h := newHarness(t, nil)
	p := &session.InitializationPayload{
		HasFreeSpinRound: true,
		FreeRounds: []session.FreeRoundEntry{{
			Bet:           d("2.00"),
			TotalFreeSpin: 3,
			UsedFreeSpin:  1,
		}},
	}
	p.Normalize()
	h.o.ApplyInitialization(p)

	snap := h.o.Snapshot()
	require.Equal(t, 2, snap.InitFreeRounds)
	assert.True(t, snap.Bet.BaseBet.Equal(d("2.00")))

	require.NoError(t, h.o.Spin())
	h.runner.drain()
	req := h.sess.lastRequest()
	assert.True(t, req.IsInitFreeRound)
	assert.True(t, req.Bet.Equal(d("2.00")))
	assert.Equal(t, 1, h.o.Snapshot().InitFreeRounds)
	assert.True(t, h.balance().Equal(d("100.00")))
}

func TestFreeRoundAutoplayEndsWithRounds(t *testing.T) {
	h := newHarness(t, nil)
	count := 2
	p := &session.InitializationPayload{HasFreeSpinRound: true, FreeSpinCount: &count}
	p.Normalize()
	h.o.ApplyInitialization(p)

	require.NoError(t, h.o.StartFreeRoundAutoplay())
	for i := 0; i < 2; i++ {
		h.runner.drain()
		require.Equal(t, StateReelAnimating, h.o.State())
		h.o.ReportAnimationComplete()
		h.runner.drain()
		h.sched.fire()
	}

	snap := h.o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Autoplay)
	assert.Zero(t, snap.InitFreeRounds)
	assert.Equal(t, 2, h.sess.spinCalls())
	assert.True(t, snap.Balance.Equal(d("100.00")))
	assert.ErrorIs(t, h.o.StartFreeRoundAutoplay(), ErrNoFreeRounds)
}

func TestDecreaseBetClearsEnhanced(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.SetEnhanced(true))
	assert.True(t, h.o.Snapshot().DisplayedBet.Equal(d("1.25")))

	require.NoError(t, h.o.DecreaseBet())
	snap := h.o.Snapshot()
	assert.True(t, snap.Bet.BaseBet.Equal(d("0.50")))
	assert.False(t, snap.Bet.IsEnhanced)
	assert.True(t, snap.DisplayedBet.Equal(d("0.50")))
}

func TestBetLadderEnds(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BaseBet = d("0.20") })
	assert.ErrorIs(t, h.o.DecreaseBet(), ErrInvalidBet)
	require.NoError(t, h.o.IncreaseBet())
	assert.True(t, h.o.Snapshot().Bet.BaseBet.Equal(d("0.50")))
	assert.ErrorIs(t, h.o.SetBaseBet(d("-1")), ErrInvalidBet)
	require.Len(t, h.rec.bets, 1)
}

func TestSpinCycleBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.queueSpin(&session.SpinRecord{
		Bet:      d("1.00"),
		Grid:     session.Grid{{4, 4, 4}},
		Paylines: []session.PaylineWin{{LineKey: "1", Symbol: 4, Count: 3, Win: d("3.00")}},
	}, nil)
	h.sess.queueBalance(d("102.50"), nil)

	require.NoError(t, h.o.Spin())
	h.runner.drain()
	assert.Equal(t, StateReelAnimating, h.o.State())
	assert.True(t, h.balance().Equal(d("99.00")))

	h.o.ReportAnimationComplete()
	assert.True(t, h.balance().Equal(d("102.00")))
	assert.Equal(t, StateBalanceSyncing, h.o.State())

	h.runner.drain()
	assert.Equal(t, StateIdle, h.o.State())
	assert.True(t, h.balance().Equal(d("102.50")))
	assert.Equal(t, []State{StateRequestInFlight, StateReelAnimating,
		StateBalanceSyncing, StateIdle}, h.rec.states)
	assert.True(t, h.o.Snapshot().LastGrid.Equal(session.Grid{{4, 4, 4}}))
}

func TestSingleFlight(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.Spin())
	assert.ErrorIs(t, h.o.Spin(), ErrSpinInFlight)
	assert.ErrorIs(t, h.o.BuyFeature(), ErrSpinInFlight)
	assert.ErrorIs(t, h.o.SetEnhanced(true), ErrSpinInFlight)
	h.runner.drain()
	assert.Equal(t, 1, h.sess.spinCalls())

	// Still animating.
	assert.ErrorIs(t, h.o.Spin(), ErrBusy)
	assert.ErrorIs(t, h.o.RefreshBalance(), ErrBusy)
}

func TestStopAutoplayWhileInFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.balance = d("99.00")
	require.NoError(t, h.o.StartAutoplay(5))
	h.o.StopAutoplay()
	assert.Equal(t, StateRequestInFlight, h.o.State())

	h.runner.drain()
	require.Len(t, h.rec.results, 1)
	h.o.ReportAnimationComplete()
	h.runner.drain()

	assert.Equal(t, StateIdle, h.o.State())
	assert.Empty(t, h.sched.live())
	assert.Equal(t, 1, h.sess.spinCalls())
	assert.True(t, h.balance().Equal(d("99.00")))
}

func TestStopAutoplayCancelsTimer(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.StartAutoplay(3))
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()
	require.Equal(t, StateAutoplayScheduled, h.o.State())
	require.Len(t, h.sched.live(), 1)

	h.o.StopAutoplay()
	assert.Equal(t, StateIdle, h.o.State())
	assert.Empty(t, h.sched.live())
	assert.Zero(t, h.sched.fire())
	assert.Equal(t, 1, h.sess.spinCalls())
}

func TestAutoplayRunsBatch(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Baseline = turbo.DefaultBaseline
		c.Multipliers = turbo.DefaultMultipliers()
	})
	h.o.SetTurbo(true)
	require.Len(t, h.rec.timings, 1)

	require.NoError(t, h.o.StartAutoplay(2))
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()
	require.Equal(t, StateAutoplayScheduled, h.o.State())
	live := h.sched.live()
	require.Len(t, live, 1)
	assert.Equal(t, h.rec.timings[0].InterSpinDelay, live[0].d)

	require.Equal(t, 1, h.sched.fire())
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()

	snap := h.o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Autoplay)
	assert.Equal(t, 2, h.sess.spinCalls())
	assert.Equal(t, [][2]int{{2, 1}, {1, 1}, {0, 1}, {0, 0}}, h.rec.autoplay)
	for _, p := range h.rec.profiles {
		assert.Equal(t, h.rec.timings[0], p)
	}
}

func TestAutoplayStopsOnInsufficientBalance(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.InitialBalance = d("1.50") })
	h.sess.balance = d("0.50")
	require.NoError(t, h.o.StartAutoplay(5))
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()
	require.Equal(t, StateAutoplayScheduled, h.o.State())

	h.sched.fire()
	snap := h.o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Autoplay)
	assert.Equal(t, 1, h.rec.insufficient)
	assert.Equal(t, 1, h.sess.spinCalls())
}

func TestStaleBalanceDropped(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.RefreshBalance())
	require.NoError(t, h.o.RefreshBalance())
	require.Equal(t, 2, h.runner.pending())

	// The newer request lands first.
	h.sess.queueBalance(d("60.00"), nil)
	h.sess.queueBalance(d("50.00"), nil)
	h.runner.runAt(1)
	h.runner.runAt(0)

	assert.True(t, h.balance().Equal(d("60.00")))
}

func TestBalanceFromBeforeSpinDropped(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.RefreshBalance())
	require.NoError(t, h.o.Spin())
	h.sess.queueBalance(d("500.00"), nil)

	// Refresh response, then the spin.
	h.runner.drain()
	assert.True(t, h.balance().Equal(d("99.00")))
}

func TestSyncFailureKeepsOptimisticBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.queueBalance(decimal.Zero, &session.Error{Kind: session.KindTimeout, Op: "balance"})
	require.NoError(t, h.o.StartAutoplay(3))
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()

	snap := h.o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.Balance.Equal(d("99.00")))
	assert.Nil(t, snap.Autoplay)
	require.Len(t, h.rec.netErrs, 1)
	assert.ErrorIs(t, h.rec.netErrs[0], session.ErrTimeout)
}

func TestAuthExpiredOnSpin(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.queueSpin(nil, &session.Error{Kind: session.KindAuthExpired, Op: "spin", Status: 401})
	require.NoError(t, h.o.StartAutoplay(2))
	h.runner.drain()

	snap := h.o.Snapshot()
	assert.Equal(t, StateErrorAuth, snap.State)
	assert.Nil(t, snap.Autoplay)
	assert.Equal(t, 1, h.rec.authExpired)
	assert.Equal(t, 1, h.sess.cleared)
	assert.Empty(t, h.sched.live())

	assert.ErrorIs(t, h.o.Spin(), ErrAuthRequired)
	assert.ErrorIs(t, h.o.RefreshBalance(), ErrAuthRequired)
	assert.ErrorIs(t, h.o.StartAutoplay(1), ErrAuthRequired)

	h.sess.balance = d("80.00")
	h.o.Reauthenticated()
	assert.Equal(t, StateIdle, h.o.State())
	h.runner.drain()
	assert.True(t, h.balance().Equal(d("80.00")))
}

func TestAuthExpiredOnBalanceSync(t *testing.T) {
	h := newHarness(t, nil)
	h.sess.queueBalance(decimal.Zero, &session.Error{Kind: session.KindAuthExpired, Op: "balance"})
	require.NoError(t, h.o.Spin())
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()

	assert.Equal(t, StateErrorAuth, h.o.State())
	assert.Equal(t, 1, h.rec.authExpired)
}

func bonusRecord() *session.SpinRecord {
	item := func(g int, left int, win string) session.FreeSpinItem {
		return session.FreeSpinItem{
			Grid:      session.Grid{{g, g, g}},
			Paylines:  []session.PaylineWin{{LineKey: "1", Symbol: g, Count: 3, Win: d(win)}},
			SpinsLeft: left,
		}
	}
	// Two spins awarded; the first item retriggers three more.
	return &session.SpinRecord{
		Bet:  d("1.00"),
		Grid: session.Grid{{7, 7, 7}},
		FreeSpinBlock: &session.FreeSpinBlock{
			Count:    5,
			TotalWin: d("5.00"),
			Items: []session.FreeSpinItem{
				item(11, 1, "1.00"),
				item(12, 3, "1.00"),
				item(13, 2, "1.00"),
				item(14, 1, "1.00"),
				item(15, 0, "1.00"),
			},
		},
	}
}

func TestBonusSequenceWithRetrigger(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BigWinMultiplier = d("-1") })
	h.sess.queueSpin(bonusRecord(), nil)
	// The backend settles the whole bonus with the triggering spin.
	h.sess.queueBalance(d("104.00"), nil)

	require.NoError(t, h.o.Spin())
	h.runner.drain()
	require.Equal(t, StateReelAnimating, h.o.State())
	assert.True(t, h.o.Snapshot().BonusActive)
	assert.ErrorIs(t, h.o.SetBaseBet(d("2.00")), ErrBonusActive)

	h.o.ReportAnimationComplete()
	h.runner.drain()
	require.Equal(t, StateBonusSequenceActive, h.o.State())
	assert.True(t, h.balance().Equal(d("99.00")))
	assert.Equal(t, 2, h.rec.freeCounts[len(h.rec.freeCounts)-1])
	assert.ErrorIs(t, h.o.Spin(), ErrBonusActive)

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, h.sched.fire(), "item %d", i)
		require.Equal(t, StateReelAnimating, h.o.State())
		h.o.ReportAnimationComplete()
	}

	assert.Equal(t, StateIdle, h.o.State())
	assert.Equal(t, []int{3}, h.rec.retriggers)
	assert.Contains(t, h.rec.freeCounts, 4)
	require.Len(t, h.rec.bonusEnded, 1)
	assert.True(t, h.rec.bonusEnded[0].Equal(d("5.00")))
	assert.True(t, h.balance().Equal(d("104.00")))
	assert.False(t, h.o.Snapshot().BonusActive)
	require.Len(t, h.rec.results, 6)
	assert.True(t, h.rec.results[5].Grid.Equal(session.Grid{{15, 15, 15}}))

	// No network spin during the sequence; one balance refresh after it.
	assert.Equal(t, 1, h.sess.spinCalls())
	h.sess.balance = d("104.00")
	h.runner.drain()
	assert.True(t, h.balance().Equal(d("104.00")))
	assert.Equal(t, 2, h.sess.fetches)
}

func TestBigWinDialogHoldsAutoplay(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BigWinMultiplier = d("10") })
	h.sess.queueSpin(&session.SpinRecord{
		Bet:      d("1.00"),
		Grid:     session.Grid{{5, 5, 5}},
		Paylines: []session.PaylineWin{{LineKey: "3", Symbol: 5, Count: 5, Win: d("20.00")}},
	}, nil)
	h.sess.balance = d("119.00")

	require.NoError(t, h.o.StartAutoplay(3))
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()

	require.Len(t, h.rec.dialogs, 1)
	assert.True(t, h.rec.dialogs[0].Equal(d("20.00")))
	snap := h.o.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.DialogPending)
	require.NotNil(t, snap.Autoplay)
	assert.Equal(t, 2, snap.Autoplay.SpinsRemaining)
	assert.Empty(t, h.sched.live())

	h.o.ReportDialogDismissed()
	assert.Equal(t, StateAutoplayScheduled, h.o.State())
	assert.Len(t, h.sched.live(), 1)
}

func TestBuyFeature(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.InitialBalance = d("50.00") })
	assert.True(t, h.o.BuyFeaturePrice().Equal(d("100.00")))
	require.ErrorIs(t, h.o.BuyFeature(), ErrInsufficientBalance)
	assert.Zero(t, h.sess.spinCalls())

	h2 := newHarness(t, func(c *Config) { c.InitialBalance = d("500.00") })
	require.NoError(t, h2.o.SetEnhanced(true))
	require.NoError(t, h2.o.BuyFeature())
	h2.runner.drain()
	req := h2.sess.lastRequest()
	assert.True(t, req.IsBuyFeature)
	assert.False(t, req.IsEnhanced)
	assert.True(t, req.Bet.Equal(d("1.00")))
	assert.True(t, h2.balance().Equal(d("400.00")))
}

func TestJournalRecordsSpins(t *testing.T) {
	mem := storage.NewMemStore()
	h := newHarness(t, func(c *Config) { c.Journal = mem })
	require.NoError(t, h.o.Spin())
	h.runner.drain()
	h.o.ReportAnimationComplete()
	h.runner.drain()

	spins, err := mem.RecentSpins(10)
	require.NoError(t, err)
	require.Len(t, spins, 1)
	assert.Equal(t, "paid", spins[0].Kind)
	assert.True(t, spins[0].Bet.Equal(d("1.00")))
}

// TestOrchestratorProperties drives random intents against random backend
// outcomes and checks that one spin is in flight at most, that the balance
// never goes negative and that init free rounds never mix with bought or
// enhanced spins.
func TestOrchestratorProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(rt, func(c *Config) {
			c.InitialBalance = d(rapid.SampledFrom([]string{"0", "1.00", "3.00", "150.00"}).Draw(rt, "balance"))
			c.BigWinMultiplier = d(rapid.SampledFrom([]string{"-1", "2"}).Draw(rt, "bigwin"))
		})

		var inFlight int
		h.o.Notifications().RegisterSync(OnStateChangedNtfn(func(from, to State) {
			if to == StateRequestInFlight {
				inFlight++
			}
			if from == StateRequestInFlight {
				inFlight--
			}
			if inFlight > 1 || inFlight < 0 {
				rt.Fatalf("in flight count %d", inFlight)
			}
		}))
		h.o.Notifications().RegisterSync(OnBalanceChangedNtfn(func(b decimal.Decimal) {
			if b.IsNegative() {
				rt.Fatalf("negative balance %s", b)
			}
		}))

		h.sess.onSpin = func(req session.SpinRequest) (*session.SpinRecord, error) {
			if req.IsInitFreeRound && (req.IsBuyFeature || req.IsEnhanced) {
				rt.Fatalf("free round mixed with paid flags: %+v", req)
			}
			snap := h.o.Snapshot()
			if snap.BonusActive {
				rt.Fatalf("network spin during bonus")
			}
			need := snap.DisplayedBet
			if req.IsBuyFeature {
				need = h.o.BuyFeaturePrice()
			}
			if need.GreaterThan(snap.Balance) {
				rt.Fatalf("spin placed needing %s with balance %s", need, snap.Balance)
			}
			switch rapid.IntRange(0, 5).Draw(rt, "outcome") {
			case 0:
				return nil, &session.Error{Kind: session.KindNetwork, Op: "spin"}
			case 1:
				if req.IsInitFreeRound {
					return nil, nil
				}
				return nil, &session.Error{Kind: session.KindTimeout, Op: "spin"}
			case 2:
				return bonusRecord(), nil
			case 3:
				return &session.SpinRecord{
					Bet:      req.Bet,
					Grid:     session.Grid{{2, 2, 2}},
					Paylines: []session.PaylineWin{{LineKey: "1", Win: d("2.50")}},
				}, nil
			default:
				return &session.SpinRecord{Bet: req.Bet, Grid: session.Grid{{1, 2, 3}}}, nil
			}
		}

		if rapid.Bool().Draw(rt, "freeRounds") {
			count := rapid.IntRange(1, 4).Draw(rt, "count")
			p := &session.InitializationPayload{HasFreeSpinRound: true, FreeSpinCount: &count}
			p.Normalize()
			h.o.ApplyInitialization(p)
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 11).Draw(rt, "action") {
			case 0:
				_ = h.o.Spin()
			case 1:
				_ = h.o.StartAutoplay(rapid.IntRange(1, 5).Draw(rt, "n"))
			case 2:
				_ = h.o.StartFreeRoundAutoplay()
			case 3:
				h.o.StopAutoplay()
			case 4:
				_ = h.o.BuyFeature()
			case 5:
				_ = h.o.SetEnhanced(rapid.Bool().Draw(rt, "enhanced"))
			case 6:
				_ = h.o.IncreaseBet()
			case 7:
				_ = h.o.RefreshBalance()
			case 8:
				if h.runner.pending() > 0 {
					h.runner.runAt(rapid.IntRange(0, h.runner.pending()-1).Draw(rt, "job"))
				}
			case 9:
				h.o.ReportAnimationComplete()
			case 10:
				h.sched.fire()
			case 11:
				h.o.ReportDialogDismissed()
			}
			h.sess.mtx.Lock()
			h.sess.balance = d(rapid.SampledFrom([]string{"0", "2.00", "40.00"}).Draw(rt, "server"))
			h.sess.mtx.Unlock()

			snap := h.o.Snapshot()
			if snap.Balance.IsNegative() {
				rt.Fatalf("negative balance %s", snap.Balance)
			}
			if snap.InitFreeRounds < 0 {
				rt.Fatalf("negative free rounds %d", snap.InitFreeRounds)
			}
			if snap.State == StateRequestInFlight && inFlight != 1 {
				rt.Fatalf("in flight state with count %d", inFlight)
			}
		}

		h.o.mtx.Lock()
		clamped := h.o.clamped
		h.o.mtx.Unlock()
		if clamped != 0 {
			rt.Fatalf("balance clamped %d times", clamped)
		}
	})
}
