package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/metrics"
	"github.com/vctt94/slotbisonrelay/pkg/storage"
)

// Backend paths, relative to the configured base URL.
const (
	PathGenerateToken = "/auth/generate-token"
	PathInitialize    = "/slots/initialize"
	PathBalance       = "/slots/balance"
	PathBet           = "/slots/bet"
	PathHistories     = "/games/me/histories"
)

// maxBodySize bounds how much of a response is read.
const maxBodySize = 4 << 20

// Config holds the fixed identity and collaborators of a Client.
type Config struct {
	BaseURL    string
	OperatorID string
	GameID     string
	PlayerID   string
	Currency   string
	Language   string

	// HTTPClient defaults to a client without a global timeout; timeouts
	// are applied per call.
	HTTPClient *http.Client

	// Store persists the token and launch parameters. Defaults to an
	// in-memory store.
	Store storage.Store

	Log     slog.Logger
	Metrics *metrics.Collector
}

// Client talks to the slot backend. It performs no game policy: every call
// returns a value, a nil record for exhausted free rounds, or an *Error.
type Client struct {
	mtx sync.RWMutex

	cfg     Config
	baseURL *url.URL
	http    *http.Client
	store   storage.Store
	log     slog.Logger
	metrics *metrics.Collector

	session  *Session
	lastSpin *SpinRecord
	lastInit *InitializationPayload
}

// NewClient validates cfg and returns a Client without a session.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", u.Scheme)
	}

	c := &Client{
		cfg:     cfg,
		baseURL: u,
		http:    cfg.HTTPClient,
		store:   cfg.Store,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.store == nil {
		c.store = storage.NewMemStore()
	}
	if c.log == nil {
		c.log = slog.Disabled
	}
	return c, nil
}

// Session returns the current session, or nil.
func (c *Client) Session() *Session {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// LastSpin returns the last record received from the backend.
func (c *Client) LastSpin() *SpinRecord {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.lastSpin
}

// LastInitialization returns the cached initialization payload.
func (c *Client) LastInitialization() *InitializationPayload {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.lastInit
}

func (c *Client) identity() Config {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.cfg
}

func (c *Client) token() string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.Token
}

// ClearToken drops the session and its persisted token.
func (c *Client) ClearToken() {
	c.mtx.Lock()
	c.session = nil
	c.mtx.Unlock()
	if err := c.store.Delete(storage.KeyToken); err != nil {
		c.log.Warnf("Unable to delete persisted token: %v", err)
	}
}

// CreateSession establishes the session. A launch token wins; otherwise a
// token persisted earlier in the same scope is reused; otherwise a new one
// is requested with the configured identity.
func (c *Client) CreateSession(ctx context.Context, launchToken string) (*Session, error) {
	const op = "create session"

	token := launchToken
	source := "launch"
	if token == "" {
		if t, err := c.store.Get(storage.KeyToken); err == nil && t != "" {
			token, source = t, "store"
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.log.Warnf("Unable to read persisted token: %v", err)
		}
	}
	if token == "" {
		var err error
		token, err = c.generateToken(ctx)
		if err != nil {
			return nil, err
		}
		source = "issued"
	}

	s := c.sessionFromToken(token)
	if err := c.store.Put(storage.KeyToken, token); err != nil {
		return nil, fmt.Errorf("%s: persist token: %w", op, err)
	}

	c.mtx.Lock()
	c.session = s
	c.mtx.Unlock()

	c.log.Infof("Session %s created (token from %s)", s.SessionID, source)
	return c.Session(), nil
}

func (c *Client) generateToken(ctx context.Context) (string, error) {
	const op = "generate token"

	cfg := c.identity()
	playerID := cfg.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}
	body := tokenBody{
		OperatorID: cfg.OperatorID,
		GameID:     cfg.GameID,
		PlayerID:   playerID,
		Currency:   cfg.Currency,
		Language:   cfg.Language,
	}

	status, resp, err := c.do(ctx, op, http.MethodPost, PathGenerateToken, nil, body, false)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindNetwork {
			e.Kind = KindAuth
		}
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &Error{Kind: KindAuth, Op: op, Status: status, Body: string(resp)}
	}
	token, err := decodeToken(resp)
	if err != nil {
		return "", &Error{Kind: KindAuth, Op: op, Status: status, Body: string(resp), Err: err}
	}
	return token, nil
}

// sessionFromToken reads the session id and expiry from the token claims
// when it is a JWT. Claims are read unverified.
func (c *Client) sessionFromToken(token string) *Session {
	cfg := c.identity()
	s := &Session{
		Token:    token,
		Currency: cfg.Currency,
		Language: cfg.Language,
		GameID:   cfg.GameID,
	}

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err == nil {
		if sid, ok := claims["sid"].(string); ok {
			s.SessionID = sid
		} else if sid, ok := claims["sessionId"].(string); ok {
			s.SessionID = sid
		}
		if gid, ok := claims["gameId"].(string); ok && s.GameID == "" {
			s.GameID = gid
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	} else {
		c.log.Debugf("Token is not a JWT: %v", err)
	}
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	return s
}

// FetchInitialization fetches and caches the session context.
func (c *Client) FetchInitialization(ctx context.Context) (*InitializationPayload, error) {
	const op = "initialize"

	status, body, err := c.do(ctx, op, http.MethodPost, PathInitialize, nil, struct{}{}, true)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, statusError(op, status, body)
	}
	p, err := decodeInitialization(body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Status: status, Body: string(body), Err: err}
	}

	c.mtx.Lock()
	c.lastInit = p
	c.mtx.Unlock()

	c.log.Debugf("Initialization: free rounds=%d unresolved=%v",
		p.RemainingInitFreeSpins, p.HasUnresolvedSpin)
	return p, nil
}

// FetchBalance returns the authoritative balance. A positive timeout bounds
// the call; exceeding it yields a KindTimeout error.
func (c *Client) FetchBalance(ctx context.Context, timeout time.Duration) (decimal.Decimal, error) {
	const op = "balance"

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, body, err := c.do(ctx, op, http.MethodPost, PathBalance, nil, struct{}{}, true)
	if err != nil {
		return decimal.Zero, err
	}
	if status < 200 || status > 299 {
		return decimal.Zero, statusError(op, status, body)
	}
	bal, err := decodeBalance(body)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindNetwork, Op: op, Status: status, Body: string(body), Err: err}
	}
	return bal, nil
}

// PlaceSpin places one spin. It returns (nil, nil) when the backend refuses
// an init free round because the allotment is exhausted.
func (c *Client) PlaceSpin(ctx context.Context, req SpinRequest, timeout time.Duration) (*SpinRecord, error) {
	const op = "spin"

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, body, err := c.do(ctx, op, http.MethodPost, PathBet, nil, newSpinBody(req), true)
	if err != nil {
		return nil, err
	}
	if req.IsInitFreeRound && isExhaustion(status, body) {
		c.log.Infof("Free rounds exhausted: %s", bytes.TrimSpace(body))
		return nil, nil
	}
	if status < 200 || status > 299 {
		return nil, statusError(op, status, body)
	}
	rec, err := decodeSpinRecord(body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Status: status, Body: string(body), Err: err}
	}

	c.mtx.Lock()
	c.lastSpin = rec
	c.mtx.Unlock()

	c.log.Tracef("Spin record: %s", rec)
	return rec, nil
}

// FetchHistory returns one page of past rounds.
func (c *Client) FetchHistory(ctx context.Context, page, limit int) (*HistoryPage, error) {
	const op = "history"

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))

	status, body, err := c.do(ctx, op, http.MethodGet, PathHistories, q, nil, true)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, statusError(op, status, body)
	}
	h, err := decodeHistory(body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Status: status, Body: string(body), Err: err}
	}
	if h.Page == 0 {
		h.Page = page
	}
	if h.Limit == 0 {
		h.Limit = limit
	}
	return h, nil
}

// do performs one call and returns its status and body. Transport failures
// come back as *Error; status interpretation is left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values,
	body interface{}, auth bool) (int, []byte, error) {

	var token string
	if auth {
		token = c.token()
		if token == "" {
			return 0, nil, &Error{Kind: KindNotAuthenticated, Op: op}
		}
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := codec.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		kind := transportKind(ctx, err)
		c.metrics.ObserveRequest(op, kind.String(), time.Since(start))
		c.log.Debugf("%s %s failed: %v", method, path, err)
		return 0, nil, &Error{Kind: kind, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		kind := transportKind(ctx, err)
		c.metrics.ObserveRequest(op, kind.String(), time.Since(start))
		return 0, nil, &Error{Kind: kind, Op: op, Status: resp.StatusCode, Err: err}
	}

	outcome := "ok"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.ObserveRequest(op, outcome, time.Since(start))
	c.log.Tracef("%s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))
	return resp.StatusCode, respBody, nil
}

func transportKind(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
