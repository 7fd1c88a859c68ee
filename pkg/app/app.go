// Package app assembles a running device server from the configuration file
// and the active database profile. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/config"
	"github.com/urmzd/plugd/pkg/db"
	devconfig "github.com/urmzd/plugd/pkg/device/config"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/hardware/bluez"
	"github.com/urmzd/plugd/pkg/device/hardware/serialport"
	"github.com/urmzd/plugd/pkg/device/hardware/wsbridge"
	"github.com/urmzd/plugd/pkg/device/manager"
	"github.com/urmzd/plugd/pkg/device/protocol"
	"github.com/urmzd/plugd/pkg/device/protocol/vendor"
	"github.com/urmzd/plugd/pkg/server"
	"github.com/urmzd/plugd/pkg/telemetry"
)

// App is the assembled server. Bridge is nil unless the websocket bridge
// transport is enabled.
type App struct {
	Config  *config.Config
	DB      *db.DB
	Profile *db.Config
	Devices *manager.Manager
	Bridge  *wsbridge.Bridge
	Sinks   []telemetry.Sink
}

// Open loads cfgPath, opens the database (dbPath overrides the configured
// path), and builds the device manager with every enabled transport.
func Open(ctx context.Context, cfgPath, dbPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.Logging, cfg.LogLevel())

	if dbPath == "" {
		dbPath = cfg.Server.Database
	}
	database, err := openDatabase(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfg, database)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return a, nil
}

func openDatabase(ctx context.Context, path string) (*db.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Info().Str("path", database.Path()).Msg("Database opened")

	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	needsBootstrap, err := database.NeedsBootstrap(ctx)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("check bootstrap status: %w", err)
	}
	if needsBootstrap {
		log.Info().Msg("First run detected, bootstrapping database...")
		if err := database.Bootstrap(ctx); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
	}
	return database, nil
}

func build(ctx context.Context, cfg *config.Config, database *db.DB) (*App, error) {
	profile, err := database.ActiveConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active profile: %w", err)
	}

	userPath := lo.CoalesceOrEmpty(cfg.Devices.UserConfig, profile.UserConfigPath())
	registry, err := devconfig.LoadFiles(cfg.Devices.BaseConfig, userPath, devconfig.WithRawAccess(cfg.Devices.AllowRaw))
	if err != nil {
		return nil, fmt.Errorf("load device configuration: %w", err)
	}

	protocols := protocol.NewRegistry()
	if err := vendor.Register(protocols); err != nil {
		return nil, fmt.Errorf("register protocols: %w", err)
	}

	a := &App{Config: cfg, DB: database, Profile: profile}
	transports := a.transports(registry)
	if len(transports) == 0 {
		log.Warn().Msg("No transports enabled, scanning will find nothing")
	}

	a.Devices, err = manager.New(manager.Options{
		Config:       registry,
		Protocols:    protocols,
		Transports:   transports,
		Identities:   db.NewIdentityIndex(database.DeviceIdentities(), profile.Profile.ID),
		PhaseTimeout: cfg.Devices.PhaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create device manager: %w", err)
	}

	a.Sinks = sinks(cfg)

	log.Info().
		Str("profile", profile.Profile.Name).
		Str("user_config", userPath).
		Int("protocols", len(registry.ProtocolNames())).
		Int("transports", len(transports)).
		Int("sinks", len(a.Sinks)).
		Msg("Device manager ready")
	return a, nil
}

func (a *App) transports(registry *devconfig.Registry) []hardware.CommunicationManagerBuilder {
	var out []hardware.CommunicationManagerBuilder
	t := a.Config.Transports

	if t.Serial.Enabled {
		out = append(out, serialport.Builder(serialport.Options{
			Specifiers:  declared[*hardware.SerialSpecifier](registry, hardware.TransportSerial),
			ReadTimeout: t.Serial.ReadTimeout,
		}))
	}
	if t.Bluez.Enabled {
		out = append(out, bluez.Builder(bluez.Options{
			Adapter:      t.Bluez.Adapter,
			ScanDuration: t.Bluez.ScanDuration,
			Specifiers:   declared[*hardware.BTLESpecifier](registry, hardware.TransportBTLE),
		}))
	}
	if t.Bridge.Enabled {
		a.Bridge = wsbridge.New()
		out = append(out, a.Bridge.Builder())
	}
	return out
}

func declared[S hardware.Specifier](registry *devconfig.Registry, t hardware.Transport) []S {
	return lo.FilterMap(registry.Specifiers(t), func(m devconfig.Match, _ int) (S, bool) {
		s, ok := m.Specifier.(S)
		return s, ok
	})
}

// sinks connects every enabled telemetry sink. A sink that cannot connect is
// logged and left out.
func sinks(cfg *config.Config) []telemetry.Sink {
	var out []telemetry.Sink

	mqttSink, err := telemetry.NewMQTTSink(cfg.MQTT)
	switch {
	case err == nil:
		out = append(out, mqttSink)
	case !errors.Is(err, telemetry.ErrDisabled):
		log.Warn().Err(err).Msg("MQTT telemetry unavailable")
	}

	influxSink, err := telemetry.NewInfluxSink(cfg.InfluxDB)
	switch {
	case err == nil:
		out = append(out, influxSink)
	case !errors.Is(err, telemetry.ErrDisabled):
		log.Warn().Err(err).Msg("InfluxDB telemetry unavailable")
	}
	return out
}

// ServerOptions merges the configuration file over the active profile.
func (a *App) ServerOptions() server.Options {
	return server.Options{
		Name:                lo.CoalesceOrEmpty(a.Config.Server.Name, a.Profile.ServerName()),
		MaxPingTime:         lo.CoalesceOrEmpty(a.Config.Server.MaxPingTime, a.Profile.MaxPingTime()),
		LeaveDevicesRunning: a.Config.Server.LeaveDevicesRunning,
	}
}

// Telemetry returns a relay over the device events, or nil with no sinks.
func (a *App) Telemetry() *telemetry.Relay {
	if len(a.Sinks) == 0 {
		return nil
	}
	return telemetry.NewRelay(a.Devices, a.Sinks...)
}

// Close stops the device manager and closes the database.
func (a *App) Close() {
	a.Devices.Close()
	if err := a.DB.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}

// configureLogging applies the logging section. Output always goes to stderr
// since the MCP binary owns stdout.
func configureLogging(cfg config.LoggingConfig, level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
