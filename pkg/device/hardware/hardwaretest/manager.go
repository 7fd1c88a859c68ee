package hardwaretest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Connector hands out a fake device, or fails with Err.
type Connector struct {
	Spec   hardware.Specifier
	Device *Device
	Err    error

	connects atomic.Int32
}

func (c *Connector) Specifier() hardware.Specifier { return c.Spec }

func (c *Connector) Connect(ctx context.Context, _ hardware.Specifier) (*hardware.Hardware, error) {
	c.connects.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Device.Hardware(), nil
}

// Connects returns how many times Connect was called.
func (c *Connector) Connects() int { return int(c.connects.Load()) }

// CommManager is a scripted communication manager. Devices added with Add
// are announced on every StartScanning, followed by ScanningFinished.
type CommManager struct {
	name string

	mu       sync.Mutex
	events   chan<- hardware.CommunicationEvent
	found    []hardware.CommunicationEvent
	scanning atomic.Bool
}

// NewCommManager creates an empty scripted manager.
func NewCommManager(name string) *CommManager {
	return &CommManager{name: name}
}

// Builder adapts the manager to a device manager constructor.
func (m *CommManager) Builder() hardware.CommunicationManagerBuilder {
	return func(events chan<- hardware.CommunicationEvent) (hardware.CommunicationManager, error) {
		m.mu.Lock()
		m.events = events
		m.mu.Unlock()
		return m, nil
	}
}

// Add registers a device announced by later scans.
func (m *CommManager) Add(name, address string, conn *Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.found = append(m.found, hardware.CommunicationEvent{
		Kind:      hardware.DeviceFound,
		Manager:   m.name,
		Name:      name,
		Address:   address,
		Connector: conn,
	})
}

func (m *CommManager) Name() string { return m.name }

func (m *CommManager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	found := append([]hardware.CommunicationEvent(nil), m.found...)
	events := m.events
	m.mu.Unlock()

	m.scanning.Store(true)
	go func() {
		for _, ev := range found {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		m.scanning.Store(false)
		select {
		case events <- hardware.CommunicationEvent{Kind: hardware.ScanningFinished, Manager: m.name}:
		case <-ctx.Done():
		}
	}()
	return nil
}

func (m *CommManager) StopScanning(context.Context) error {
	m.scanning.Store(false)
	return nil
}

func (m *CommManager) Scanning() bool { return m.scanning.Load() }
