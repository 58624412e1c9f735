package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/logging"
	"github.com/vctt94/slotbisonrelay/pkg/mockserver"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		host         string
		port         int
		portFile     string
		seed         int64
		balance      string
		freeRounds   int
		freeRoundBet string
		bonusSpins   int
		secret       string
		tokenTTL     time.Duration
		debugLevel   string
	)
	flag.StringVar(&host, "host", "127.0.0.1", "Host to listen on")
	flag.IntVar(&port, "port", 8088, "Port to listen on (0 for random free port)")
	flag.StringVar(&portFile, "portfile", "", "If set, write selected port to this file")
	flag.Int64Var(&seed, "seed", 0, "Deterministic RNG seed for spins (0 = random)")
	flag.StringVar(&balance, "balance", "1000", "Starting balance of new players")
	flag.IntVar(&freeRounds, "freerounds", 0, "Init free rounds granted to new players")
	flag.StringVar(&freeRoundBet, "freeroundbet", "1", "Bet the init free rounds are played at")
	flag.IntVar(&bonusSpins, "bonusspins", 5, "Free spins awarded by a bonus")
	flag.StringVar(&secret, "secret", "", "Token signing secret (random when empty)")
	flag.DurationVar(&tokenTTL, "tokenttl", time.Hour, "Token lifetime")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	startBalance, err := decimal.NewFromString(balance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid balance: %v\n", err)
		os.Exit(1)
	}
	frBet, err := decimal.NewFromString(freeRoundBet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid freeroundbet: %v\n", err)
		os.Exit(1)
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{DebugLevel: debugLevel, Stdout: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log backend: %v\n", err)
		os.Exit(1)
	}
	log := logBackend.Logger("SIM")

	srv := mockserver.New(mockserver.Config{
		Secret:           []byte(secret),
		TokenTTL:         tokenTTL,
		StartBalance:     startBalance,
		InitFreeRounds:   freeRounds,
		InitFreeRoundBet: frBet,
		BonusSpins:       bonusSpins,
		Seed:             seed,
		Log:              logBackend.Logger("MOCK"),
	})

	lis, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	if portFile != "" {
		_, p, _ := net.SplitHostPort(lis.Addr().String())
		_ = os.WriteFile(portFile, []byte(p), 0600)
	}
	log.Infof("Listening on %s", lis.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Errorf("Server error: %v", err)
		os.Exit(1)
	}
	log.Infof("Shut down")
}
