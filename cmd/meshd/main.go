package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/daemon"
	"github.com/matheus3301/meshphone/internal/logging"
	"github.com/matheus3301/meshphone/internal/session"
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
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := session.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
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
		fmt.Fprintf(os.Stderr, "error: invalid config %s:\n%v\n", session.ConfigPath(), err)
		os.Exit(1)
	}
	if err := session.ValidateUserID(cfg.Identity.UserID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Config:      cfg,
			LogLevel:    logging.ParseLevel(*levelFlag),
		}),
	)

	app.Run()
}
