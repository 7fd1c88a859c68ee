package db

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 12345
)

// Bootstrap creates the default profile and its server settings when the
// database has no profiles. It runs after Migrate.
func (db *DB) Bootstrap(ctx context.Context) error {
	empty, err := db.NeedsBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to check profiles: %w", err)
	}
	if !empty {
		return nil
	}

	profile := &Profile{Name: "default", Timezone: detectTimezone(), IsActive: true}
	if err := db.Profiles().Create(ctx, profile); err != nil {
		return fmt.Errorf("failed to create default profile: %w", err)
	}

	server := &APIServer{ProfileID: profile.ID, Host: defaultHost, Port: defaultPort, ServerName: "plugd"}
	if err := db.APIServers().Create(ctx, server); err != nil {
		return fmt.Errorf("failed to create default API server: %w", err)
	}

	return nil
}

// detectTimezone attempts to detect the system timezone.
func detectTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}

	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("systemsetup", "-gettimezone").Output()
		if err == nil {
			parts := strings.SplitN(string(out), ": ", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	case "linux":
		out, err := exec.Command("timedatectl", "show", "--property=Timezone", "--value").Output()
		if err == nil {
			if tz := strings.TrimSpace(string(out)); tz != "" {
				return tz
			}
		}
		if data, err := os.ReadFile("/etc/timezone"); err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	if link, err := os.Readlink("/etc/localtime"); err == nil {
		if _, zone, ok := strings.Cut(link, "zoneinfo/"); ok {
			return zone
		}
	}
	return "UTC"
}

// NeedsBootstrap returns true if the database needs initial setup.
func (db *DB) NeedsBootstrap(ctx context.Context) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
