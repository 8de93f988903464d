package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/logging"
	"github.com/matheus3301/meshphone/internal/relay"
	"github.com/matheus3301/meshphone/internal/session"
)

func main() {
	listenFlag := flag.String("listen", "", "listen address (overrides config relay.listen)")
	levelFlag := flag.String("log-level", "info", "log level")
	flag.Parse()

	cfg, err := session.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	addr := cfg.Relay.Listen
	if *listenFlag != "" {
		addr = *listenFlag
	}

	logger, err := logging.New(filepath.Join(session.BaseDir(), "logs", "meshrelay.log"),
		"relay", "", logging.ParseLevel(*levelFlag), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			func(l *zap.Logger) *relay.Hub { return relay.NewHub(l.Named("hub")) },
			func(h *relay.Hub, l *zap.Logger) (*relay.Server, error) { return relay.NewServer(addr, h, l) },
		),
		fx.Invoke(func(lc fx.Lifecycle, srv *relay.Server, l *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := srv.Start(); err != nil {
							l.Error("relay server error", zap.Error(err))
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					srv.Stop(ctx)
					return l.Sync()
				},
			})
		}),
	)

	app.Run()
}
