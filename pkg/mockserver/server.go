// Package mockserver simulates the slot backend over HTTP: token issuance,
// initialization with free rounds, balance, spins with bonus blocks and
// retriggers, free round exhaustion, token expiry and history.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExhaustedMessage is the body sent when a free round is requested and none
// are left.
const ExhaustedMessage = "No valid freespins available"

// Config configures a Server.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration

	StartBalance     decimal.Decimal
	InitFreeRounds   int
	InitFreeRoundBet decimal.Decimal

	Cols, Rows, Symbols int
	BonusSpins          int

	EnhancedMultiplier   decimal.Decimal
	BuyFeatureMultiplier decimal.Decimal

	Seed int64
	Log  slog.Logger
}

func (cfg *Config) setDefaults() {
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.StartBalance.IsZero() {
		cfg.StartBalance = decimal.NewFromInt(1000)
	}
	if cfg.InitFreeRoundBet.IsZero() {
		cfg.InitFreeRoundBet = decimal.NewFromInt(1)
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 5
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 3
	}
	if cfg.Symbols <= Scatter {
		cfg.Symbols = Scatter + 1
	}
	if cfg.BonusSpins <= 0 {
		cfg.BonusSpins = 5
	}
	if cfg.EnhancedMultiplier.IsZero() {
		cfg.EnhancedMultiplier = decimal.RequireFromString("1.25")
	}
	if cfg.BuyFeatureMultiplier.IsZero() {
		cfg.BuyFeatureMultiplier = decimal.NewFromInt(100)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
}

type round struct {
	id         string
	bet        decimal.Decimal
	win        decimal.Decimal
	isFreeSpin bool
	createdAt  time.Time
}

type player struct {
	id       string
	currency string
	balance  decimal.Decimal

	freeTotal int
	freeUsed  int
	freeBet   decimal.Decimal

	// sessions maps the session ids issued to the player to whether they
	// are still accepted.
	sessions map[string]bool

	forced  []Outcome
	history []round
}

// PlayerState is a snapshot of a simulated player.
type PlayerState struct {
	ID             string
	Balance        decimal.Decimal
	FreeRoundsLeft int
	Rounds         int
}

// Server is the simulated backend. It is safe for concurrent use.
type Server struct {
	mtx     sync.Mutex
	cfg     Config
	log     slog.Logger
	game    *game
	players map[string]*player
	router  chi.Router
}

// claims carried by issued tokens.
type claims struct {
	SessionID  string `json:"sid"`
	GameID     string `json:"gameId"`
	OperatorID string `json:"operatorId"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg: cfg,
		log: cfg.Log,
		game: &game{
			cols:       cfg.Cols,
			rows:       cfg.Rows,
			symbols:    cfg.Symbols,
			bonusSpins: cfg.BonusSpins,
			rng:        rand.New(rand.NewSource(cfg.Seed)),
		},
		players: make(map[string]*player),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/auth/generate-token", s.handleGenerateToken)
	r.Group(func(rr chi.Router) {
		rr.Use(s.authenticate)
		rr.Post("/slots/initialize", s.handleInitialize)
		rr.Post("/slots/balance", s.handleBalance)
		rr.Post("/slots/bet", s.handleBet)
		rr.Get("/games/me/histories", s.handleHistory)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// playerLocked returns the player with id, creating it with the configured
// balance and free rounds.
func (s *Server) playerLocked(id string) *player {
	p, ok := s.players[id]
	if !ok {
		p = &player{
			id:        id,
			balance:   s.cfg.StartBalance,
			freeTotal: s.cfg.InitFreeRounds,
			freeBet:   s.cfg.InitFreeRoundBet,
			sessions:  make(map[string]bool),
		}
		s.players[id] = p
	}
	return p
}

// IssueToken signs a token for playerID, creating the player if needed.
func (s *Server) IssueToken(playerID, gameID, operatorID string) (string, error) {
	sid := uuid.NewString()
	s.mtx.Lock()
	s.playerLocked(playerID).sessions[sid] = true
	s.mtx.Unlock()

	now := time.Now()
	c := claims{
		SessionID:  sid,
		GameID:     gameID,
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.Secret)
}

func (s *Server) verify(tokenStr string) (*claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected token signing method")
		}
		return s.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return c, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		c, err := s.verify(tokenStr)
		if err != nil {
			s.log.Debugf("Rejected token: %v", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		s.mtx.Lock()
		p := s.playerLocked(c.Subject)
		valid := p.sessions[c.SessionID]
		s.mtx.Unlock()
		if !valid {
			writeError(w, http.StatusUnauthorized, "Session expired")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) *claims {
	c, _ := r.Context().Value(ctxKey{}).(*claims)
	return c
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OperatorID == "" || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "operatorId and playerId are required")
		return
	}

	token, err := s.IssueToken(req.PlayerID, req.GameID, req.OperatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mtx.Lock()
	s.players[req.PlayerID].currency = req.Currency
	s.mtx.Unlock()

	s.log.Infof("Issued token for player %s (operator %s, game %s)", req.PlayerID,
		req.OperatorID, req.GameID)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r)
	s.mtx.Lock()
	p := s.playerLocked(c.Subject)
	resp := initResponse{HasFreeSpinRound: p.freeTotal > p.freeUsed}
	if p.freeTotal > 0 {
		resp.FreeSpinRound = []freeRoundEntry{{
			Bet:               p.freeBet,
			TotalFreeSpin:     p.freeTotal,
			UsedFreeSpin:      p.freeUsed,
			RemainingFreeSpin: p.freeTotal - p.freeUsed,
		}}
	}
	s.mtx.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r)
	s.mtx.Lock()
	p := s.playerLocked(c.Subject)
	resp := balanceResponse{Balance: p.balance, Currency: p.currency}
	s.mtx.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBet(w http.ResponseWriter, r *http.Request) {
	var req spinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	c := claimsFrom(r)

	s.mtx.Lock()
	defer s.mtx.Unlock()
	p := s.playerLocked(c.Subject)

	bet := req.Bet
	charge := bet
	switch {
	case req.IsFs:
		if p.freeUsed >= p.freeTotal {
			writeError(w, http.StatusUnprocessableEntity, ExhaustedMessage)
			return
		}
		p.freeUsed++
		bet = p.freeBet
		charge = decimal.Zero
	case !bet.IsPositive():
		writeError(w, http.StatusUnprocessableEntity, "invalid bet")
		return
	case req.IsBuyFs:
		charge = bet.Mul(s.cfg.BuyFeatureMultiplier)
	case req.IsEnhancedBet:
		charge = bet.Mul(s.cfg.EnhancedMultiplier)
	}
	if charge.GreaterThan(p.balance) {
		if req.IsFs {
			p.freeUsed--
		}
		writeError(w, http.StatusPaymentRequired, "insufficient balance")
		return
	}
	p.balance = p.balance.Sub(charge)

	resp := s.spinLocked(p, bet, req.IsBuyFs)
	total := resp.winTotal()
	p.balance = p.balance.Add(total)
	resp.Balance = p.balance

	p.history = append(p.history, round{
		id:         resp.RoundID,
		bet:        charge,
		win:        total,
		isFreeSpin: req.IsFs,
		createdAt:  time.Now().UTC(),
	})
	s.log.Debugf("Player %s spin %s: charged %s, won %s, balance %s", p.id,
		resp.RoundID, charge, total, p.balance)
	writeJSON(w, http.StatusOK, resp)
}

func (r *spinResponse) winTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Paylines {
		total = total.Add(l.Win)
	}
	if r.FreeSpin != nil {
		total = total.Add(r.FreeSpin.TotalWin)
	}
	return total
}

func (s *Server) spinLocked(p *player, bet decimal.Decimal, buy bool) *spinResponse {
	g := s.game
	resp := &spinResponse{
		PlayerID: p.id,
		RoundID:  uuid.NewString(),
		Bet:      bet,
		Grid:     g.grid(),
	}

	if len(p.forced) > 0 {
		o := p.forced[0]
		p.forced = p.forced[1:]
		resp.Paylines = scripted(resp.Grid, o.Win)
		if len(o.BonusWins) > 0 {
			resp.FreeSpin = g.scriptedBonus(o.BonusWins, o.Retrigger)
		}
		return resp
	}

	var scatters int
	resp.Paylines, scatters = g.evaluate(resp.Grid, bet)
	if buy || scatters >= 3 {
		resp.FreeSpin = g.randomBonus(bet, g.bonusSpins)
	}
	return resp
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	s.mtx.Lock()
	p := s.playerLocked(c.Subject)
	resp := historyResponse{Page: page, Limit: limit, Total: len(p.history), Items: []historyItem{}}
	// Newest first.
	for i := len(p.history) - 1 - (page-1)*limit; i >= 0 && len(resp.Items) < limit; i-- {
		h := p.history[i]
		resp.Items = append(resp.Items, historyItem{
			ID:         strconv.Itoa(i + 1),
			RoundID:    h.id,
			Bet:        h.bet,
			Win:        h.win,
			IsFreeSpin: h.isFreeSpin,
			CreatedAt:  h.createdAt.Format(time.RFC3339),
		})
	}
	s.mtx.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

// Force queues scripted outcomes for the next spins of playerID.
func (s *Server) Force(playerID string, outcomes ...Outcome) {
	s.mtx.Lock()
	p := s.playerLocked(playerID)
	p.forced = append(p.forced, outcomes...)
	s.mtx.Unlock()
}

// Expire rejects every token issued to playerID so far.
func (s *Server) Expire(playerID string) {
	s.mtx.Lock()
	p := s.playerLocked(playerID)
	for sid := range p.sessions {
		p.sessions[sid] = false
	}
	s.mtx.Unlock()
}

// GrantFreeRounds replaces the init free round grant of playerID.
func (s *Server) GrantFreeRounds(playerID string, n int, bet decimal.Decimal) {
	s.mtx.Lock()
	p := s.playerLocked(playerID)
	p.freeTotal, p.freeUsed, p.freeBet = n, 0, bet
	s.mtx.Unlock()
}

// SetBalance sets the balance of playerID.
func (s *Server) SetBalance(playerID string, balance decimal.Decimal) {
	s.mtx.Lock()
	s.playerLocked(playerID).balance = balance
	s.mtx.Unlock()
}

// Player returns the state of playerID.
func (s *Server) Player(playerID string) PlayerState {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p := s.playerLocked(playerID)
	return PlayerState{
		ID:             p.id,
		Balance:        p.balance,
		FreeRoundsLeft: p.freeTotal - p.freeUsed,
		Rounds:         len(p.history),
	}
}
