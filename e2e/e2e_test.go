// This file contains end-to-end tests that run the mock slot backend on a
// real listener and drive it with full slot clients backed by real SQLite
// databases. Only the animation is skipped: every spin result is reported as
// rendered right away.
//
// To keep the tests self-contained and independent they **must** be executed
// with `go test ./...` and **should not** depend on external resources.

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/slotbisonrelay/pkg/client"
	"github.com/vctt94/slotbisonrelay/pkg/mockserver"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
)

const settleTimeout = 10 * time.Second

// testEnv holds a mock backend served over TCP. Each test spins up its own
// env so tests are isolated and can run in parallel.
type testEnv struct {
	t       *testing.T
	srv     *mockserver.Server
	httpSrv *http.Server
	url     string
}

func newTestEnv(t *testing.T, cfg mockserver.Config) *testEnv {
	t.Helper()

	srv := mockserver.New(cfg)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = httpSrv.Serve(lis) }()

	env := &testEnv{
		t:       t,
		srv:     srv,
		httpSrv: httpSrv,
		url:     "http://" + lis.Addr().String(),
	}
	t.Cleanup(env.Close)
	return env
}

func (e *testEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.httpSrv.Shutdown(ctx)
}

// newPlayer bootstraps a slot client for playerID with its data in datadir.
func (e *testEnv) newPlayer(playerID, datadir string) *client.SlotClient {
	e.t.Helper()

	cfg := client.DefaultConfig(datadir)
	cfg.ServerURL = e.url
	cfg.PlayerID = playerID
	cfg.LogFile = ""
	cfg.DebugLevel = "off"
	cfg.BigWinMultiplier = "-1"
	cfg.Timing = turbo.TimingProfile{InterSpinDelay: time.Millisecond}

	var sc *client.SlotClient
	ntfns := orchestrator.NewNotificationManager()
	ntfns.Register(orchestrator.OnSpinResultNtfn(func(*session.SpinRecord, turbo.TimingProfile) {
		sc.Orchestrator.ReportAnimationComplete()
	}))

	sc, err := client.NewSlotClient(context.Background(), cfg, client.Options{Notifications: ntfns})
	require.NoError(e.t, err)
	return sc
}

// waitSettled waits until the client is idle with no autoplay or bonus left
// and shows the backend balance.
func (e *testEnv) waitSettled(sc *client.SlotClient, playerID string) {
	e.t.Helper()
	require.Eventually(e.t, func() bool {
		s := sc.Orchestrator.Snapshot()
		return s.State == orchestrator.StateIdle && s.Autoplay == nil && !s.BonusActive &&
			s.Balance.Equal(e.srv.Player(playerID).Balance)
	}, settleTimeout, 5*time.Millisecond)
}

func TestConcurrentPlayersAutoplay(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, mockserver.Config{Seed: 11, StartBalance: decimal.NewFromInt(500)})

	const players = 4
	const spins = 25

	var wg sync.WaitGroup
	clients := make([]*client.SlotClient, players)
	for i := range clients {
		id := fmt.Sprintf("player-%d", i)
		clients[i] = env.newPlayer(id, t.TempDir())
		t.Cleanup(func() { clients[i].Close() })
	}

	for i, sc := range clients {
		wg.Add(1)
		go func(i int, sc *client.SlotClient) {
			defer wg.Done()
			assert.NoError(t, sc.Orchestrator.StartAutoplay(spins))
		}(i, sc)
	}
	wg.Wait()

	for i, sc := range clients {
		id := fmt.Sprintf("player-%d", i)
		env.waitSettled(sc, id)
		assert.Equal(t, spins, env.srv.Player(id).Rounds, id)

		journal, err := sc.DB.RecentSpins(spins * 100)
		require.NoError(t, err)
		paid := 0
		for _, e := range journal {
			if e.Kind != "bonus" {
				paid++
			}
		}
		assert.Equal(t, spins, paid, id)
	}
}

func TestFreeRoundsExhaustedMidAutoplay(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, mockserver.Config{
		Seed:           12,
		StartBalance:   decimal.NewFromInt(100),
		InitFreeRounds: 5,
	})
	sc := env.newPlayer("carol", t.TempDir())
	defer sc.Close()
	require.Equal(t, 5, sc.Orchestrator.Snapshot().InitFreeRounds)

	// The backend takes rounds away behind the client's back.
	env.srv.GrantFreeRounds("carol", 2, decimal.NewFromInt(1))

	require.NoError(t, sc.Orchestrator.StartFreeRoundAutoplay())
	env.waitSettled(sc, "carol")

	s := sc.Orchestrator.Snapshot()
	assert.Zero(t, s.InitFreeRounds)
	assert.Nil(t, s.Autoplay)
	assert.Equal(t, 2, env.srv.Player("carol").Rounds)

	// Nothing was charged for the free rounds.
	assert.True(t, s.Balance.GreaterThanOrEqual(decimal.NewFromInt(100)))
}

func TestSessionSurvivesRestart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, mockserver.Config{Seed: 13, StartBalance: decimal.NewFromInt(100)})
	datadir := t.TempDir()

	env.srv.Force("dave", mockserver.Outcome{Win: decimal.NewFromInt(3)})
	sc := env.newPlayer("dave", datadir)
	first := sc.Session.Session().SessionID
	require.NoError(t, sc.Orchestrator.Spin())
	env.waitSettled(sc, "dave")
	require.NoError(t, sc.Close())

	// The persisted token is reused, so the same session continues.
	sc = env.newPlayer("dave", datadir)
	defer sc.Close()
	assert.Equal(t, first, sc.Session.Session().SessionID)
	assert.True(t, sc.Orchestrator.Snapshot().Balance.Equal(env.srv.Player("dave").Balance))

	journal, err := sc.DB.RecentSpins(10)
	require.NoError(t, err)
	assert.Len(t, journal, 1)
}

func TestExpiredSessionRecovers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, mockserver.Config{Seed: 14, StartBalance: decimal.NewFromInt(100)})
	sc := env.newPlayer("erin", t.TempDir())
	defer sc.Close()

	require.NoError(t, sc.Orchestrator.StartAutoplay(50))
	env.srv.Expire("erin")

	require.Eventually(t, func() bool {
		return sc.Orchestrator.State() == orchestrator.StateErrorAuth
	}, settleTimeout, 5*time.Millisecond)
	assert.Nil(t, sc.Orchestrator.Snapshot().Autoplay)
	err := sc.Orchestrator.Spin()
	assert.True(t, errors.Is(err, orchestrator.ErrAuthRequired))

	require.NoError(t, sc.Reauthenticate(context.Background()))
	env.waitSettled(sc, "erin")

	rounds := env.srv.Player("erin").Rounds
	require.NoError(t, sc.Orchestrator.Spin())
	env.waitSettled(sc, "erin")
	assert.Equal(t, rounds+1, env.srv.Player("erin").Rounds)
}
