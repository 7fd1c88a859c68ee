package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/app"
	plugdmcp "github.com/urmzd/plugd/pkg/mcp"
)

func main() {
	// stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgPath := flag.String("config", "plugd.yaml", "Path to the server configuration file")
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/plugd/plugd.db)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, *cfgPath, *dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.Close()

	if a.Bridge != nil {
		log.Warn().Msg("Websocket bridge has no listener in MCP mode; bridged devices will not connect")
	}

	if relay := a.Telemetry(); relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Telemetry relay stopped")
			}
		}()
	}

	mcpServer := plugdmcp.NewServer(a.Devices)

	log.Info().Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Error().Err(err).Msg("MCP server failed")
	}
}
