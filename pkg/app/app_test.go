package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/config"
	"github.com/urmzd/plugd/pkg/device"
)

func openTest(t *testing.T, body string) *App {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "plugd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	a, err := Open(context.Background(), cfgPath, filepath.Join(dir, "plugd.db"))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestOpenBootstrapsAndBuildsManager(t *testing.T) {
	a := openTest(t, "transports:\n  bridge:\n    enabled: true\n")

	require.NotNil(t, a.Devices)
	require.NotNil(t, a.Bridge)
	assert.Equal(t, "default", a.Profile.Profile.Name)
	assert.Empty(t, a.Sinks)
	assert.Nil(t, a.Telemetry())
	assert.Empty(t, a.Devices.Devices())

	events := a.Devices.Subscribe()
	defer a.Devices.Unsubscribe(events)

	require.NoError(t, a.Devices.StartScanning(context.Background()))
	assert.True(t, a.Bridge.Scanning())
	require.NoError(t, a.Devices.StopScanning(context.Background()))

	select {
	case ev := <-events:
		assert.Equal(t, device.EventScanningFinished, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no ScanningFinished after stop")
	}
}

func TestOpenWithoutTransports(t *testing.T) {
	a := openTest(t, "")
	assert.Nil(t, a.Bridge)
	assert.ErrorIs(t, a.Devices.StartScanning(context.Background()), device.ErrNotConnected)
}

func TestServerOptionsPrecedence(t *testing.T) {
	a := openTest(t, "")
	opts := a.ServerOptions()
	assert.Equal(t, "plugd", opts.Name, "profile default")
	assert.Zero(t, opts.MaxPingTime)

	a = openTest(t, "server:\n  name: bench\n  max_ping_time: 2s\n  leave_devices_running: true\n")
	opts = a.ServerOptions()
	assert.Equal(t, "bench", opts.Name)
	assert.Equal(t, 2*time.Second, opts.MaxPingTime)
	assert.True(t, opts.LeaveDevicesRunning)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "plugd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: loud\n"), 0o600))

	_, err := Open(context.Background(), cfgPath, filepath.Join(dir, "plugd.db"))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenMissingUserConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "plugd.yaml")
	body := "devices:\n  user_config: " + filepath.Join(dir, "absent.json") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	_, err := Open(context.Background(), cfgPath, filepath.Join(dir, "plugd.db"))
	assert.Error(t, err)
}
