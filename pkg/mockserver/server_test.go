package mockserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/slotbisonrelay/pkg/session"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestClient(t *testing.T, cfg Config) (*Server, *session.Client) {
	t.Helper()
	srv := New(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c, err := session.NewClient(session.Config{
		BaseURL:    ts.URL,
		OperatorID: "op",
		GameID:     "classic",
		PlayerID:   "alice",
		Currency:   "USD",
		Language:   "en",
	})
	require.NoError(t, err)
	_, err = c.CreateSession(context.Background(), "")
	require.NoError(t, err)
	return srv, c
}

func TestSessionAndBalance(t *testing.T) {
	_, c := newTestClient(t, Config{Seed: 1, StartBalance: d("250")})
	ctx := context.Background()

	s := c.Session()
	require.NotNil(t, s)
	assert.Equal(t, "classic", s.GameID)
	assert.NotEmpty(t, s.SessionID)
	assert.False(t, s.Expired(time.Now()))

	init, err := c.FetchInitialization(ctx)
	require.NoError(t, err)
	assert.False(t, init.HasFreeSpinRound)
	assert.Zero(t, init.RemainingInitFreeSpins)

	bal, err := c.FetchBalance(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("250")))
}

func TestInitFreeRoundsAndExhaustion(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 1, InitFreeRounds: 2, InitFreeRoundBet: d("0.50")})
	ctx := context.Background()

	init, err := c.FetchInitialization(ctx)
	require.NoError(t, err)
	require.True(t, init.HasFreeSpinRound)
	assert.Equal(t, 2, init.RemainingInitFreeSpins)
	require.NotNil(t, init.InitFreeSpinBet)
	assert.True(t, init.InitFreeSpinBet.Equal(d("0.50")))

	req := session.SpinRequest{Bet: d("0.50"), Line: 20, IsInitFreeRound: true}
	for i := 0; i < 2; i++ {
		rec, err := c.PlaceSpin(ctx, req, time.Second)
		require.NoError(t, err)
		require.NotNil(t, rec)
	}
	assert.Zero(t, srv.Player("alice").FreeRoundsLeft)

	rec, err := c.PlaceSpin(ctx, req, time.Second)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 2, srv.Player("alice").Rounds)
}

func TestForcedBonusWithRetrigger(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 2, StartBalance: d("100")})
	srv.Force("alice", Outcome{
		Win:       d("1.00"),
		BonusWins: []decimal.Decimal{d("2.00"), d("3.00")},
		Retrigger: 3,
	})

	rec, err := c.PlaceSpin(context.Background(), session.SpinRequest{Bet: d("1.00"), Line: 20}, time.Second)
	require.NoError(t, err)
	require.True(t, rec.HasBonus())
	assert.True(t, rec.Win().Equal(d("1.00")))

	block := rec.FreeSpinBlock
	assert.Equal(t, 5, block.Count)
	assert.True(t, block.TotalWin.Equal(d("5.00")))
	left := make([]int, 0, len(block.Items))
	for _, it := range block.Items {
		left = append(left, it.SpinsLeft)
		assert.Len(t, it.Grid, 5)
	}
	assert.Equal(t, []int{1, 3, 2, 1, 0}, left)

	// Charged 1, won 1 plus the bonus total.
	assert.True(t, srv.Player("alice").Balance.Equal(d("105.00")))
}

func TestEnhancedAndBuyCharges(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 3, StartBalance: d("500")})
	ctx := context.Background()
	srv.Force("alice", Outcome{}, Outcome{BonusWins: []decimal.Decimal{d("0")}})

	_, err := c.PlaceSpin(ctx, session.SpinRequest{Bet: d("2.00"), Line: 20, IsEnhanced: true}, time.Second)
	require.NoError(t, err)
	assert.True(t, srv.Player("alice").Balance.Equal(d("497.50")))

	rec, err := c.PlaceSpin(ctx, session.SpinRequest{Bet: d("2.00"), Line: 20, IsBuyFeature: true}, time.Second)
	require.NoError(t, err)
	assert.True(t, rec.HasBonus())
	assert.True(t, srv.Player("alice").Balance.Equal(d("297.50")))
}

func TestInsufficientBalanceIsNetworkError(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 4})
	srv.SetBalance("alice", d("0.10"))

	_, err := c.PlaceSpin(context.Background(), session.SpinRequest{Bet: d("1.00"), Line: 20}, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNetwork)
	assert.Equal(t, session.KindNetwork, session.KindOf(err))
}

func TestExpireRejectsSession(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 5})
	ctx := context.Background()
	srv.Expire("alice")

	_, err := c.FetchBalance(ctx, time.Second)
	assert.ErrorIs(t, err, session.ErrAuthExpired)

	// A new session is accepted right away.
	c.ClearToken()
	_, err = c.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = c.FetchBalance(ctx, time.Second)
	assert.NoError(t, err)
}

func TestHistoryNewestFirst(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 6, StartBalance: d("100")})
	ctx := context.Background()
	srv.Force("alice", Outcome{Win: d("4.00")}, Outcome{}, Outcome{Win: d("1.50")})
	for i := 0; i < 3; i++ {
		_, err := c.PlaceSpin(ctx, session.SpinRequest{Bet: d("1.00"), Line: 20}, time.Second)
		require.NoError(t, err)
	}

	page, err := c.FetchHistory(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].Win.Equal(d("1.50")))
	assert.True(t, page.Items[1].Win.IsZero())
	assert.NotEmpty(t, page.Items[0].CreatedAt)

	page, err = c.FetchHistory(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].Win.Equal(d("4.00")))
}

func TestRandomSpinsKeepBooks(t *testing.T) {
	srv, c := newTestClient(t, Config{Seed: 7, StartBalance: d("1000")})
	ctx := context.Background()

	balance := d("1000")
	for i := 0; i < 50; i++ {
		rec, err := c.PlaceSpin(ctx, session.SpinRequest{Bet: d("1.00"), Line: 20}, time.Second)
		require.NoError(t, err)
		balance = balance.Sub(d("1.00")).Add(rec.Win())
		if rec.HasBonus() {
			balance = balance.Add(rec.FreeSpinBlock.TotalWin)
		}
	}
	assert.True(t, srv.Player("alice").Balance.Equal(balance))
	assert.Equal(t, 50, srv.Player("alice").Rounds)
}
