// Package client wires the session client, storage, metrics and
// orchestrator of a slot game together from an AppConfig.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vctt94/slotbisonrelay/pkg/logging"
	"github.com/vctt94/slotbisonrelay/pkg/metrics"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/storage"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
	"github.com/vctt94/slotbisonrelay/pkg/utils"
)

// Options tunes NewSlotClient.
type Options struct {
	// Notifications receives orchestrator events. A new manager is
	// created when nil.
	Notifications *orchestrator.NotificationManager

	// LogStdout mirrors logs to stdout. Leave off under a terminal UI.
	LogStdout bool

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Scheduler and Runner override the orchestrator's clock and call
	// runner, mainly for headless tools.
	Scheduler orchestrator.Scheduler
	Runner    func(func())
}

// SlotClient is a bootstrapped game session.
type SlotClient struct {
	sync.Mutex

	cfg        *AppConfig
	log        slog.Logger
	logBackend *logging.LogBackend

	Session      *session.Client
	Orchestrator *orchestrator.Orchestrator
	DB           *storage.DB
	Metrics      *metrics.Collector
	Registry     *prometheus.Registry

	// Init is nil when initialization failed.
	Init *session.InitializationPayload
}

// NewSlotClient validates cfg, opens the store, creates the session and
// loads the initialization payload and balance before handing control to
// the orchestrator.
func NewSlotClient(ctx context.Context, cfg *AppConfig, opts Options) (*SlotClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg is nil")
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	if err := utils.EnsureDataDirExists(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %v", err)
	}

	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:     cfg.LogFile,
		DebugLevel:  cfg.DebugLevel,
		MaxLogFiles: cfg.MaxLogFiles,
		Stdout:      opts.LogStdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create log backend: %v", err)
	}
	log := lb.Logger("SlotClient")

	sc := &SlotClient{
		cfg:        cfg,
		log:        log,
		logBackend: lb,
		Registry:   prometheus.NewRegistry(),
	}
	sc.Metrics = metrics.New(sc.Registry)

	scope := cfg.OperatorID + "/" + cfg.GameID + "/" + cfg.PlayerID
	db, err := storage.NewDB(cfg.DBFile, scope, lb.Logger("STOR"))
	if err != nil {
		lb.Close()
		return nil, fmt.Errorf("failed to open store: %v", err)
	}
	sc.DB = db

	if err := sc.bootstrap(ctx, opts); err != nil {
		sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *SlotClient) bootstrap(ctx context.Context, opts Options) error {
	cfg := sc.cfg

	sess, err := session.NewClient(session.Config{
		BaseURL:    cfg.ServerURL,
		OperatorID: cfg.OperatorID,
		GameID:     cfg.GameID,
		PlayerID:   cfg.PlayerID,
		Currency:   cfg.Currency,
		Language:   cfg.Language,
		HTTPClient: opts.HTTPClient,
		Store:      sc.DB,
		Log:        sc.logBackend.Logger("SESS"),
		Metrics:    sc.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create session client: %v", err)
	}
	sc.Session = sess

	var launchToken string
	if cfg.LaunchURL != "" {
		p, err := session.ParseLaunchURL(cfg.LaunchURL)
		if err != nil {
			return err
		}
		if err := sess.PersistLaunchParams(p); err != nil {
			return fmt.Errorf("failed to persist launch params: %v", err)
		}
		launchToken = p.Token
	}

	s, err := sess.CreateSession(ctx, launchToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	sc.log.Infof("Session %s for game %s", s.SessionID, s.GameID)

	// The game runs with an empty ledger when initialization fails.
	init, err := sess.FetchInitialization(ctx)
	if err != nil {
		sc.log.Warnf("Unable to fetch initialization: %v", err)
		init = nil
	}
	sc.Init = init

	balance, err := sess.FetchBalance(ctx, cfg.BalanceTimeout)
	if err != nil {
		return fmt.Errorf("failed to fetch balance: %w", err)
	}
	freeRounds := 0
	if init != nil {
		freeRounds = init.RemainingInitFreeSpins
	}
	sc.log.Infof("Balance %s %s, init free rounds %d", balance, cfg.Currency, freeRounds)

	bets, _ := cfg.Bets()
	bet, _ := cfg.Bet()
	ntfns := opts.Notifications
	if ntfns == nil {
		ntfns = orchestrator.NewNotificationManager()
	}
	o, err := orchestrator.New(orchestrator.Config{
		Session:              sess,
		Notifications:        ntfns,
		Scheduler:            opts.Scheduler,
		Runner:               opts.Runner,
		Journal:              sc.DB,
		Log:                  sc.logBackend.Logger("ORCH"),
		Metrics:              sc.Metrics,
		Baseline:             cfg.Timing,
		Multipliers:          cfg.Turbo,
		BetLadder:            bets,
		BaseBet:              bet,
		Lines:                cfg.Lines,
		EnhancedMultiplier:   optDecimal(cfg.EnhancedMultiplier),
		BuyFeatureMultiplier: optDecimal(cfg.BuyFeatureMultiplier),
		BigWinMultiplier:     optDecimal(cfg.BigWinMultiplier),
		SpinTimeout:          cfg.SpinTimeout,
		BalanceTimeout:       cfg.BalanceTimeout,
		InitialBalance:       balance,
		InitialGrid:          sc.initialGrid(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %v", err)
	}
	o.ApplyInitialization(init)
	sc.Orchestrator = o
	return nil
}

// initialGrid is the grid shown before the first spin: the unresolved
// spin's grid when the backend reports one, else a blank grid.
func (sc *SlotClient) initialGrid() session.Grid {
	rec, err := sc.Init.UnresolvedRecord()
	if err != nil {
		sc.log.Warnf("Unable to decode unresolved spin: %v", err)
	}
	if rec != nil && len(rec.Grid) > 0 {
		return rec.Grid
	}
	return utils.BlankGrid(sc.cfg.GridColumns, sc.cfg.GridRows)
}

// Config returns the configuration the client was built from.
func (sc *SlotClient) Config() *AppConfig {
	return sc.cfg
}

// Logger returns a logger for subsys sharing the client's backend.
func (sc *SlotClient) Logger(subsys string) slog.Logger {
	return sc.logBackend.Logger(subsys)
}

// Timing returns the baseline timing profile in use.
func (sc *SlotClient) Timing() turbo.TimingProfile {
	return sc.cfg.Timing
}

// Reauthenticate replaces an expired session and returns the orchestrator
// to idle.
func (sc *SlotClient) Reauthenticate(ctx context.Context) error {
	sc.Lock()
	defer sc.Unlock()

	sc.Session.ClearToken()
	if _, err := sc.Session.CreateSession(ctx, ""); err != nil {
		return fmt.Errorf("failed to re-authenticate: %w", err)
	}
	sc.Orchestrator.Reauthenticated()
	return nil
}

// Close releases the orchestrator, store and log backend.
func (sc *SlotClient) Close() error {
	sc.Lock()
	defer sc.Unlock()

	if sc.Orchestrator != nil {
		sc.Orchestrator.Close()
	}
	var err error
	if sc.DB != nil {
		err = sc.DB.Close()
	}
	if sc.logBackend != nil {
		sc.logBackend.Close()
	}
	return err
}
