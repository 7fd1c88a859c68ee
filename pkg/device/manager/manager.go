// Package manager owns the communication managers, brings discovered
// devices up through their protocol handlers and routes commands to the
// resulting live sessions.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/broadcast"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/config"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/protocol"
)

// DefaultPhaseTimeout bounds each of the identify and initialize phases.
const DefaultPhaseTimeout = 5 * time.Second

// IdentityStore persists the index a device address was last given so it
// survives restarts.
type IdentityStore interface {
	Index(ctx context.Context, address string) (uint32, bool, error)
	Remember(ctx context.Context, def *device.DeviceDefinition) error
}

// Options configures a Manager. Config and Protocols are required.
type Options struct {
	Config       *config.Registry
	Protocols    *protocol.Registry
	Transports   []hardware.CommunicationManagerBuilder
	Identities   IdentityStore
	PhaseTimeout time.Duration
}

// Manager implements device.Controller and device.EventSubscriber.
type Manager struct {
	cfg          *config.Registry
	protocols    *protocol.Registry
	identities   IdentityStore
	phaseTimeout time.Duration

	comms      []hardware.CommunicationManager
	discovered chan hardware.CommunicationEvent
	events     *broadcast.Hub[device.Event]

	mu        sync.RWMutex
	sessions  map[uint32]*session
	addresses map[string]struct{}

	scanMu  sync.Mutex
	pending map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var (
	_ device.Controller      = (*Manager)(nil)
	_ device.EventSubscriber = (*Manager)(nil)
)

// New builds every transport and starts the discovery loop.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil || opts.Protocols == nil {
		return nil, errors.New("manager: config and protocol registries are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:          opts.Config,
		protocols:    opts.Protocols,
		identities:   opts.Identities,
		phaseTimeout: lo.Ternary(opts.PhaseTimeout > 0, opts.PhaseTimeout, DefaultPhaseTimeout),
		discovered:   make(chan hardware.CommunicationEvent, 64),
		events:       broadcast.New[device.Event]("device-events", 256),
		sessions:     make(map[uint32]*session),
		addresses:    make(map[string]struct{}),
		pending:      make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, build := range opts.Transports {
		cm, err := build(m.discovered)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("build transport: %w", err)
		}
		log.Info().Str("transport", cm.Name()).Msg("Communication manager ready")
		m.comms = append(m.comms, cm)
	}

	m.wg.Add(1)
	go m.run()
	return m, nil
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.discovered:
			switch ev.Kind {
			case hardware.DeviceFound:
				m.discover(ev)
			case hardware.ScanningFinished:
				m.finished(ev.Manager)
			}
		}
	}
}

// Subscribe returns a channel of manager events.
func (m *Manager) Subscribe() <-chan device.Event {
	return m.events.Subscribe()
}

// Unsubscribe releases a channel from Subscribe.
func (m *Manager) Unsubscribe(ch <-chan device.Event) {
	m.events.Unsubscribe(ch)
}

func (m *Manager) publish(ev device.Event) {
	m.events.Publish(ev)
}

// StartScanning starts discovery on every transport. ScanningFinished is
// published once all of them report completion.
func (m *Manager) StartScanning(ctx context.Context) error {
	if len(m.comms) == 0 {
		return device.ErrNotConnected
	}
	m.scanMu.Lock()
	for _, cm := range m.comms {
		m.pending[cm.Name()] = struct{}{}
	}
	m.scanMu.Unlock()

	var errs []error
	for _, cm := range m.comms {
		if err := cm.StartScanning(m.ctx); err != nil {
			log.Warn().Err(err).Str("transport", cm.Name()).Msg("Failed to start scanning")
			errs = append(errs, fmt.Errorf("%s: %w", cm.Name(), err))
			m.finished(cm.Name())
		}
	}
	if len(errs) == len(m.comms) {
		return errors.Join(errs...)
	}
	log.Info().Int("transports", len(m.comms)-len(errs)).Msg("Scanning started")
	return nil
}

// StopScanning asks every transport to stop. Transports still report
// ScanningFinished on their own.
func (m *Manager) StopScanning(ctx context.Context) error {
	var errs []error
	for _, cm := range m.comms {
		if err := cm.StopScanning(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cm.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) finished(name string) {
	m.scanMu.Lock()
	_, ok := m.pending[name]
	delete(m.pending, name)
	done := ok && len(m.pending) == 0
	m.scanMu.Unlock()

	if done {
		log.Info().Msg("Scanning finished")
		m.publish(device.Event{Type: device.EventScanningFinished})
	}
}

func (m *Manager) IsScanning() bool {
	return lo.SomeBy(m.comms, func(cm hardware.CommunicationManager) bool { return cm.Scanning() })
}

func (m *Manager) IsConnected() bool {
	return len(m.comms) > 0
}

// Devices returns a snapshot of every live device ordered by index.
func (m *Manager) Devices() []*device.DeviceDefinition {
	m.mu.RLock()
	out := make([]*device.DeviceDefinition, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.def.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Device returns the definition of a live device.
func (m *Manager) Device(index uint32) (*device.DeviceDefinition, error) {
	s, err := m.session(index)
	if err != nil {
		return nil, err
	}
	return s.def.Clone(), nil
}

func (m *Manager) ListDevices(context.Context) ([]device.DeviceDefinition, error) {
	return lo.Map(m.Devices(), func(d *device.DeviceDefinition, _ int) device.DeviceDefinition { return *d }), nil
}

func (m *Manager) GetDevice(_ context.Context, index uint32) (*device.DeviceDefinition, error) {
	return m.Device(index)
}

func (m *Manager) session(index uint32) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", device.ErrNotFound, index)
	}
	return s, nil
}

// Output applies a batch of output requests to one device as a single
// diff.
func (m *Manager) Output(ctx context.Context, index uint32, requests []device.OutputRequest) error {
	s, err := m.session(index)
	if err != nil {
		return err
	}
	return s.submit(ctx, &request{outputs: requests})
}

// StopDevice zeroes every stoppable output of a device, bypassing the
// diff cache.
func (m *Manager) StopDevice(ctx context.Context, index uint32) error {
	s, err := m.session(index)
	if err != nil {
		return err
	}
	return s.submit(ctx, &request{stop: true})
}

// StopAllDevices stops every device concurrently. A failing device does not
// hold up the others; failures are joined.
func (m *Manager) StopAllDevices(ctx context.Context) error {
	m.mu.RLock()
	sessions := lo.Values(m.sessions)
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			if err := s.submit(ctx, &request{stop: true}); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("device %d: %w", s.def.Index, err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Input runs a sensor command. Only Read returns a reading.
func (m *Manager) Input(ctx context.Context, index, featureIndex uint32, t device.InputType, cmd device.InputCommand) (device.InputReading, error) {
	s, err := m.session(index)
	if err != nil {
		return device.InputReading{}, err
	}
	return s.input(ctx, featureIndex, t, cmd)
}

func (m *Manager) ReadInput(ctx context.Context, index, featureIndex uint32, t device.InputType) (device.InputReading, error) {
	return m.Input(ctx, index, featureIndex, t, device.InputRead)
}

// RawWrite writes data to an endpoint the device declares as raw.
func (m *Manager) RawWrite(ctx context.Context, index uint32, ep hardware.Endpoint, data []byte, withResponse bool) error {
	s, err := m.rawSession(index, ep)
	if err != nil {
		return err
	}
	return s.hw.Write(ctx, hardware.Write(ep, data, withResponse))
}

// RawRead reads from a raw endpoint.
func (m *Manager) RawRead(ctx context.Context, index uint32, ep hardware.Endpoint, expected int, timeout time.Duration) ([]byte, error) {
	s, err := m.rawSession(index, ep)
	if err != nil {
		return nil, err
	}
	return s.hw.Read(ctx, hardware.ReadCmd{Endpoint: ep, ExpectedLength: expected, Timeout: timeout})
}

// RawSubscribe relays notifications from a raw endpoint as raw reading
// events.
func (m *Manager) RawSubscribe(ctx context.Context, index uint32, ep hardware.Endpoint) error {
	s, err := m.rawSession(index, ep)
	if err != nil {
		return err
	}
	return s.rawSubscribe(ctx, ep)
}

func (m *Manager) RawUnsubscribe(ctx context.Context, index uint32, ep hardware.Endpoint) error {
	s, err := m.rawSession(index, ep)
	if err != nil {
		return err
	}
	return s.rawUnsubscribe(ctx, ep)
}

func (m *Manager) rawSession(index uint32, ep hardware.Endpoint) (*session, error) {
	s, err := m.session(index)
	if err != nil {
		return nil, err
	}
	for _, f := range s.def.Features {
		if f.Raw != nil && lo.Contains(f.Raw.Endpoints, ep) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: raw access to %s on device %d", device.ErrUnsupported, ep, index)
}

// Close stops discovery and disconnects every device.
func (m *Manager) Close() {
	m.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.StopScanning(ctx)
		if err := m.StopAllDevices(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop devices on shutdown")
		}

		m.mu.RLock()
		sessions := lo.Values(m.sessions)
		m.mu.RUnlock()
		for _, s := range sessions {
			if err := s.hw.Disconnect(); err != nil {
				log.Warn().Err(err).Str("address", s.def.Address).Msg("Disconnect failed")
			}
		}

		m.cancel()
		m.wg.Wait()
		m.events.Close()
		log.Info().Msg("Device manager closed")
	})
}
