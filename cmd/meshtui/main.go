package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rivo/tview"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/daemon"
	"github.com/matheus3301/meshphone/internal/logging"
	"github.com/matheus3301/meshphone/internal/outbox"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/service"
	"github.com/matheus3301/meshphone/internal/session"
	"github.com/matheus3301/meshphone/internal/status"
	"github.com/matheus3301/meshphone/internal/store"
	"github.com/matheus3301/meshphone/internal/tui"
	"github.com/matheus3301/meshphone/internal/tui/ui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	userFlag := flag.String("user", "", "user id (overrides config identity)")
	coordinatorFlag := flag.Bool("coordinator", false, "run as the coordinator")
	relayFlag := flag.String("relay", "", "relay address (overrides config)")
	levelFlag := flag.String("log-level", "info", "log level")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}
	cfg, err := session.LoadConfig()
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	if *userFlag != "" {
		cfg.Identity.UserID = *userFlag
	}
	if *coordinatorFlag {
		cfg.Identity.Coordinator = true
	}
	if *relayFlag != "" {
		cfg.Relay.Address = *relayFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(fmt.Errorf("invalid config %s:\n%w", session.ConfigPath(), err))
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fatal(err)
	}

	tapp := tview.NewApplication()
	flash := ui.NewFlashModel()
	alerter := tui.NewAlerter(flash)

	var (
		svc     *service.Service
		ctrl    *reactive.Controller
		machine *status.Machine
		sender  *outbox.Sender
		db      *store.DB
		logger  *zap.Logger
	)
	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Config:      cfg,
			LogLevel:    logging.ParseLevel(*levelFlag),
			Quiet:       true,
			Scheduler:   tui.NewScheduler(tapp),
			Alerter:     alerter,
		}),
		fx.Populate(&svc, &ctrl, &machine, &sender, &db, &logger),
	)
	if err := app.Err(); err != nil {
		fatal(fmt.Errorf("%w (is meshd already running for session %q?)", err, sessionName))
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fatal(err)
	}
	alerter.SetDirectory(svc)

	view := tui.NewApp(tapp, tui.Deps{
		SessionName: sessionName,
		Service:     svc,
		Controller:  ctrl,
		Machine:     machine,
		Peers:       sender,
		Outbox:      db,
		Flash:       flash,
		Logger:      logger.Named("tui"),
	})
	runErr := view.Run()
	view.Stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if runErr != nil {
		fatal(runErr)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
