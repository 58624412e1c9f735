package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/vctt94/slotbisonrelay/pkg/client"
	"github.com/vctt94/slotbisonrelay/pkg/orchestrator"
	"github.com/vctt94/slotbisonrelay/pkg/session"
	"github.com/vctt94/slotbisonrelay/pkg/turbo"
	"github.com/vctt94/slotbisonrelay/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Common flags
var (
	dataDir    = flag.String("datadir", "", "Directory to load config file from")
	serverURL  = flag.String("url", "", "Base URL of the slot backend")
	operatorID = flag.String("operator", "", "Operator ID")
	gameID     = flag.String("game", "", "Game ID")
	playerID   = flag.String("id", "", "Player ID")
	launchURL  = flag.String("launchurl", "", "Launch URL carrying the session token")
	logFile    = flag.String("logfile", "", "Path to log file")
	debug      = flag.String("debug", "", "Debug level for logging")
	dump       = flag.Bool("dump", false, "Dump raw values instead of JSON")
	timeout    = flag.Duration("timeout", 2*time.Minute, "Give up after this long")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [global flags] <command> [args]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  session                          Show the current session (JSON)")
		fmt.Fprintln(os.Stderr, "  init                             Show the initialization payload (JSON)")
		fmt.Fprintln(os.Stderr, "  balance                          Show the balance")
		fmt.Fprintln(os.Stderr, "  spin [--bet X] [--enhanced]      Play one spin")
		fmt.Fprintln(os.Stderr, "  buy [--bet X]                    Buy the bonus feature")
		fmt.Fprintln(os.Stderr, "  autoplay N | autoplay --free     Play N spins, or the free rounds")
		fmt.Fprintln(os.Stderr, "  history [--page P] [--limit L]   Show the backend spin history (JSON)")
		fmt.Fprintln(os.Stderr, "  journal [--limit L]              Show the locally recorded spins (JSON)")
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		flag.PrintDefaults()
	}

	// Suppress default flag errors to avoid noisy usage on subcommands
	flag.CommandLine.SetOutput(io.Discard)
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	cfg, err := client.LoadConfig("slotclient", *dataDir)
	if err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.SetConfigValues(map[string]interface{}{
		"serverurl":  *serverURL,
		"operatorid": *operatorID,
		"gameid":     *gameID,
		"playerid":   *playerID,
		"launchurl":  *launchURL,
		"logfile":    *logFile,
		"debuglevel": *debug,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	// Without a renderer every animation completes at once and dialogs
	// are dismissed as they show up.
	ntfns := orchestrator.NewNotificationManager()
	var sc *client.SlotClient
	ntfns.Register(orchestrator.OnSpinResultNtfn(func(rec *session.SpinRecord, _ turbo.TimingProfile) {
		printSpin(rec)
		sc.Orchestrator.ReportAnimationComplete()
	}))
	ntfns.Register(orchestrator.OnWinDialogNtfn(func(win decimal.Decimal) {
		fmt.Printf("big win %s\n", win.StringFixed(2))
		sc.Orchestrator.ReportDialogDismissed()
	}))
	ntfns.Register(orchestrator.OnRetriggerNtfn(func(n int) {
		fmt.Printf("retrigger +%d\n", n)
	}))
	ntfns.Register(orchestrator.OnUINotification(func(n orchestrator.UINotification) {
		fmt.Fprintln(os.Stderr, n.Text)
	}))

	sc, err = client.NewSlotClient(ctx, cfg, client.Options{Notifications: ntfns})
	if err != nil {
		fmt.Printf("Failed to create slot client: %v\n", err)
		os.Exit(1)
	}
	defer sc.Close()

	switch cmd {
	case "session":
		err = output(sc.Session.Session())
	case "init":
		if sc.Init == nil {
			fatal("initialization unavailable, see the log")
		}
		err = output(sc.Init)
	case "balance":
		fmt.Println(utils.FormatMoney(sc.Orchestrator.Snapshot().Balance, cfg.Currency))
	case "spin":
		err = handleSpin(ctx, sc, flag.Args()[1:], false)
	case "buy":
		err = handleSpin(ctx, sc, flag.Args()[1:], true)
	case "autoplay":
		err = handleAutoplay(ctx, sc, flag.Args()[1:])
	case "history":
		err = handleHistory(ctx, sc, flag.Args()[1:])
	case "journal":
		err = handleJournal(sc, flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatalErr(err)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func fatalErr(err error) {
	fatal(err.Error())
}

func output(v interface{}) error {
	if *dump {
		spew.Dump(v)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSpin(rec *session.SpinRecord) {
	if *dump {
		spew.Dump(rec)
		return
	}
	fmt.Println(utils.FormatGrid(rec.Grid))
	fmt.Println(utils.FormatPaylines(rec.Paylines))
}

// waitSettled blocks until the orchestrator is idle with nothing pending.
func waitSettled(ctx context.Context, sc *client.SlotClient) error {
	changed := make(chan struct{}, 1)
	reg := sc.Orchestrator.Notifications().Register(orchestrator.OnStateChangedNtfn(func(_, _ orchestrator.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))
	defer reg.Unregister()

	for {
		s := sc.Orchestrator.Snapshot()
		switch {
		case s.State == orchestrator.StateErrorAuth:
			return orchestrator.ErrAuthRequired
		case s.State == orchestrator.StateIdle && s.Autoplay == nil && !s.BonusActive:
			return nil
		}
		select {
		case <-changed:
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func applyBet(sc *client.SlotClient, bet string) error {
	if bet == "" {
		return nil
	}
	b, err := decimal.NewFromString(bet)
	if err != nil {
		return fmt.Errorf("invalid bet %q: %w", bet, err)
	}
	return sc.Orchestrator.SetBaseBet(b)
}

func handleSpin(ctx context.Context, sc *client.SlotClient, args []string, buy bool) error {
	name := "spin"
	if buy {
		name = "buy"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bet := fs.String("bet", "", "Base bet")
	enhanced := fs.Bool("enhanced", false, "Play the enhanced bet")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := applyBet(sc, *bet); err != nil {
		return err
	}

	o := sc.Orchestrator
	var err error
	if buy {
		fmt.Printf("price %s\n", o.BuyFeaturePrice().StringFixed(2))
		err = o.BuyFeature()
	} else {
		if *enhanced {
			if err := o.SetEnhanced(true); err != nil {
				return err
			}
		}
		err = o.Spin()
	}
	if err != nil {
		return err
	}
	if err := waitSettled(ctx, sc); err != nil {
		return err
	}
	fmt.Println(utils.FormatMoney(o.Snapshot().Balance, sc.Config().Currency))
	return nil
}

func handleAutoplay(ctx context.Context, sc *client.SlotClient, args []string) error {
	fs := flag.NewFlagSet("autoplay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	free := fs.Bool("free", false, "Play the remaining init free rounds")
	bet := fs.String("bet", "", "Base bet")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("autoplay: %w", err)
	}
	if err := applyBet(sc, *bet); err != nil {
		return err
	}

	o := sc.Orchestrator
	if *free {
		if err := o.StartFreeRoundAutoplay(); err != nil {
			return err
		}
	} else {
		rest := fs.Args()
		if len(rest) < 1 {
			return errors.New("autoplay requires a spin count or --free")
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("autoplay: %w", err)
		}
		if err := o.StartAutoplay(n); err != nil {
			return err
		}
	}
	if err := waitSettled(ctx, sc); err != nil {
		return err
	}
	fmt.Println(utils.FormatMoney(o.Snapshot().Balance, sc.Config().Currency))
	return nil
}

func handleHistory(ctx context.Context, sc *client.SlotClient, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	page := fs.Int("page", 1, "Page number")
	limit := fs.Int("limit", 20, "Entries per page")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	h, err := sc.Session.FetchHistory(ctx, *page, *limit)
	if err != nil {
		return err
	}
	return output(h)
}

func handleJournal(sc *client.SlotClient, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "Number of spins")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	spins, err := sc.DB.RecentSpins(*limit)
	if err != nil {
		return err
	}
	return output(spins)
}
