package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoActiveProfile = errors.New("no active profile found")

// Config is the runtime configuration of the active profile.
type Config struct {
	Profile   *Profile
	APIServer *APIServer
}

// APIAddress returns the API server listen address.
func (c *Config) APIAddress() string {
	if c.APIServer == nil {
		return defaultHost + ":" + fmt.Sprint(defaultPort)
	}
	return c.APIServer.Address()
}

// ServerName is the name reported to clients in ServerInfo.
func (c *Config) ServerName() string {
	if c.APIServer == nil || c.APIServer.ServerName == "" {
		return "plugd"
	}
	return c.APIServer.ServerName
}

// MaxPingTime is the client ping deadline; zero disables it.
func (c *Config) MaxPingTime() time.Duration {
	if c.APIServer == nil {
		return 0
	}
	return c.APIServer.MaxPingTime
}

// UserConfigPath is the user device configuration document path, if any.
func (c *Config) UserConfigPath() string {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.UserConfig
}

// ActiveConfig loads the configuration of the active profile.
func (db *DB) ActiveConfig(ctx context.Context) (*Config, error) {
	profile, err := db.Profiles().GetActive(ctx)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrNoActiveProfile
		}
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}

	config := &Config{
		Profile: profile,
	}

	apiServer, err := db.APIServers().Get(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrAPIServerNotFound) {
		return nil, fmt.Errorf("failed to get API server config: %w", err)
	}
	config.APIServer = apiServer

	return config, nil
}
