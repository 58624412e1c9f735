package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vctt94/slotbisonrelay/pkg/client"
	"github.com/vctt94/slotbisonrelay/pkg/metrics"
	"github.com/vctt94/slotbisonrelay/pkg/ui"
	"golang.org/x/sync/errgroup"
)

var (
	dataDir     = flag.String("datadir", "", "Directory to load config file from")
	serverURL   = flag.String("url", "", "Base URL of the slot backend")
	operatorID  = flag.String("operator", "", "Operator ID")
	gameID      = flag.String("game", "", "Game ID")
	playerID    = flag.String("id", "", "Player ID")
	launchURL   = flag.String("launchurl", "", "Launch URL carrying the session token")
	logFile     = flag.String("logfile", "", "Path to log file")
	debug       = flag.String("debug", "", "Debug level for logging")
	metricsAddr = flag.String("metricsaddr", "", "Serve prometheus metrics on this address")
	autoplay    = flag.Int("autoplay", ui.DefaultAutoplaySpins, "Spins started by the autoplay key")
	turbo       = flag.Bool("turbo", false, "Start with turbo enabled")
)

func main() {
	flag.Parse()

	cfg, err := client.LoadConfig("slotclient", *dataDir)
	if err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.SetConfigValues(map[string]interface{}{
		"serverurl":   *serverURL,
		"operatorid":  *operatorID,
		"gameid":      *gameID,
		"playerid":    *playerID,
		"launchurl":   *launchURL,
		"logfile":     *logFile,
		"debuglevel":  *debug,
		"metricsaddr": *metricsAddr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := client.NewSlotClient(ctx, cfg, client.Options{})
	if err != nil {
		fmt.Printf("Failed to start slot client: %v\n", err)
		os.Exit(1)
	}
	defer sc.Close()
	log := sc.Logger("SlotClient")

	if *turbo {
		sc.Orchestrator.SetTurbo(true)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(sc.Registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Infof("Serving metrics on %s", cfg.MetricsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	}

	uiCtx, cancelUI := context.WithCancel(gctx)
	g.Go(func() error {
		defer stop()
		defer cancelUI()
		return ui.Run(uiCtx, sc.Orchestrator, ui.Options{
			Currency:      cfg.Currency,
			AutoplaySpins: *autoplay,
			Reauth:        sc.Reauthenticate,
		})
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Slot client error: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
