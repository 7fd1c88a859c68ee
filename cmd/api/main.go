package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/api"
	"github.com/urmzd/plugd/pkg/app"
	"github.com/urmzd/plugd/pkg/server"
	"golang.org/x/sync/errgroup"

	_ "github.com/urmzd/plugd/docs"
)

// @title           plugd API
// @version         1.0
// @description     REST and websocket API for discovering and controlling intimate hardware

// @host      localhost:12345
// @BasePath  /api/v1
// @schemes   http https

const shutdownTimeout = 5 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgPath := flag.String("config", "plugd.yaml", "Path to the server configuration file")
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/plugd/plugd.db)")
	addr := flag.String("addr", "", "Listen address (default: the active profile's API server)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, *cfgPath, *dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.Close()

	opts := api.Options{
		Controller: a.Devices,
		Events:     a.Devices,
		Server:     server.New(a.ServerOptions(), a.Devices),
	}
	if a.Bridge != nil {
		opts.Bridge = a.Bridge
	}
	router := api.NewRouter(opts)

	listen := *addr
	if listen == "" {
		listen = a.Profile.APIAddress()
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("address", listen).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if relay := a.Telemetry(); relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}
}
