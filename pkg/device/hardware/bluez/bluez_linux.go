//go:build linux

package bluez

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

const servicesResolvedPoll = 100 * time.Millisecond

// Builder connects to the system bus and returns the BlueZ communication
// manager.
func Builder(opts Options) hardware.CommunicationManagerBuilder {
	return func(events chan<- hardware.CommunicationEvent) (hardware.CommunicationManager, error) {
		bus, err := dbus.SystemBus()
		if err != nil {
			return nil, fmt.Errorf("bluez: connect system bus: %w", err)
		}
		if opts.Adapter == "" {
			opts.Adapter = "hci0"
		}
		if opts.ScanDuration <= 0 {
			opts.ScanDuration = DefaultScanDuration
		}
		return &Manager{opts: opts, events: events, bus: bus}, nil
	}
}

// Manager scans one adapter for declared BLE devices.
type Manager struct {
	opts   Options
	events chan<- hardware.CommunicationEvent
	bus    *dbus.Conn

	mu   sync.Mutex
	stop chan struct{}
}

func (m *Manager) Name() string { return Name }

func (m *Manager) Scanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Manager) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + m.opts.Adapter)
}

func (m *Manager) managedObjects() (managedObjects, error) {
	var objs managedObjects
	call := m.bus.Object(bluezService, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// StartScanning runs LE discovery for ScanDuration or until StopScanning.
func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	adapter := m.bus.Object(bluezService, m.adapterPath())
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		log.Debug().Err(err).Msg("bluez: discovery filter not applied")
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		m.mu.Lock()
		m.stop = nil
		m.mu.Unlock()
		return fmt.Errorf("bluez: StartDiscovery: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 64)
	m.bus.Signal(sigCh)
	match := []dbus.MatchOption{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")}
	if err := m.bus.AddMatchSignal(match...); err != nil {
		m.bus.RemoveSignal(sigCh)
		return fmt.Errorf("bluez: AddMatchSignal: %w", err)
	}

	objs, err := m.managedObjects()
	if err != nil {
		log.Warn().Err(err).Msg("bluez: no initial device snapshot")
	}

	go m.scan(objs, sigCh, match, stop)
	return nil
}

func (m *Manager) scan(objs managedObjects, sigCh chan *dbus.Signal, match []dbus.MatchOption, stop chan struct{}) {
	seen := make(map[dbus.ObjectPath]struct{})
	timer := time.NewTimer(m.opts.ScanDuration)
	defer func() {
		timer.Stop()
		_ = m.bus.RemoveMatchSignal(match...)
		m.bus.RemoveSignal(sigCh)
		_ = m.bus.Object(bluezService, m.adapterPath()).Call(adapterIface+".StopDiscovery", 0).Err
		m.mu.Lock()
		if m.stop == stop {
			m.stop = nil
		}
		m.mu.Unlock()
		m.events <- hardware.CommunicationEvent{Kind: hardware.ScanningFinished, Manager: Name}
	}()

	report := func(path dbus.ObjectPath, props map[string]dbus.Variant) {
		if _, dup := seen[path]; dup {
			return
		}
		adv, ok := parseDevice(path, props)
		if !ok || !matchesAny(m.opts.Specifiers, adv.Specifier) {
			return
		}
		seen[path] = struct{}{}
		log.Debug().Str("address", adv.Address).Str("name", adv.Name).Msg("BLE device found")
		m.events <- hardware.CommunicationEvent{
			Kind:      hardware.DeviceFound,
			Manager:   Name,
			Name:      adv.Name,
			Address:   adv.Address,
			Connector: &connector{bus: m.bus, adv: adv},
		}
	}

	prefix := string(m.adapterPath()) + "/"
	for path, ifaces := range objs {
		if props, ok := ifaces[deviceIface]; ok && strings.HasPrefix(string(path), prefix) {
			report(path, props)
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			return
		case sig := <-sigCh:
			if sig == nil || sig.Name != objManagerIface+".InterfacesAdded" || len(sig.Body) < 2 {
				continue
			}
			path, _ := sig.Body[0].(dbus.ObjectPath)
			ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
			if props, ok := ifaces[deviceIface]; ok && strings.HasPrefix(string(path), prefix) {
				report(path, props)
			}
		}
	}
}

func (m *Manager) StopScanning(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	return nil
}

type connector struct {
	bus *dbus.Conn
	adv advertisement
}

func (c *connector) Specifier() hardware.Specifier { return c.adv.Specifier }

// Connect connects the device, waits for GATT resolution and maps the
// declared services onto endpoints.
func (c *connector) Connect(ctx context.Context, declared hardware.Specifier) (*hardware.Hardware, error) {
	spec, ok := declared.(*hardware.BTLESpecifier)
	if !ok {
		return nil, fmt.Errorf("%w: ble device %s given %T", hardware.ErrConnect, c.adv.Address, declared)
	}

	dev := c.bus.Object(bluezService, c.adv.Path)
	if err := dev.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return nil, fmt.Errorf("%w: %s: %w", hardware.ErrConnect, c.adv.Address, err)
	}
	if err := c.waitResolved(ctx, dev); err != nil {
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, err
	}

	var objs managedObjects
	call := c.bus.Object(bluezService, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err == nil {
		call.Err = call.Store(&objs)
	}
	if call.Err != nil {
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, fmt.Errorf("%w: %s: %w", hardware.ErrConnect, c.adv.Address, call.Err)
	}

	chars := resolveEndpoints(spec, gattChars(objs, c.adv.Path))
	if len(chars) == 0 {
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, fmt.Errorf("%w: %s exposes none of the declared characteristics", hardware.ErrConnect, c.adv.Address)
	}

	l := &link{
		bus:   c.bus,
		dev:   dev,
		path:  c.adv.Path,
		chars: chars,
		sigCh: make(chan *dbus.Signal, 64),
		done:  make(chan struct{}),
	}
	l.match = []dbus.MatchOption{
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(c.adv.Path),
	}
	if err := c.bus.AddMatchSignal(l.match...); err != nil {
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, fmt.Errorf("%w: %s: %w", hardware.ErrConnect, c.adv.Address, err)
	}
	c.bus.Signal(l.sigCh)

	l.hw = hardware.New(c.adv.Name, c.adv.Address, lo.Keys(chars), l)
	go l.watch()

	log.Info().Str("address", c.adv.Address).Int("endpoints", len(chars)).Msg("BLE device connected")
	return l.hw, nil
}

func (c *connector) waitResolved(ctx context.Context, dev dbus.BusObject) error {
	ticker := time.NewTicker(servicesResolvedPoll)
	defer ticker.Stop()
	for {
		v, err := dev.GetProperty(deviceIface + ".ServicesResolved")
		if err == nil {
			if resolved, _ := v.Value().(bool); resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s services not resolved: %w", hardware.ErrTimeout, c.adv.Address, ctx.Err())
		case <-ticker.C:
		}
	}
}

// link drives one connected device.
type link struct {
	hw    *hardware.Hardware
	bus   *dbus.Conn
	dev   dbus.BusObject
	path  dbus.ObjectPath
	chars map[hardware.Endpoint]dbus.ObjectPath
	match []dbus.MatchOption
	sigCh chan *dbus.Signal

	once sync.Once
	done chan struct{}
}

// watch turns characteristic value changes into notifications and the
// device's Connected=false into a disconnect.
func (l *link) watch() {
	byPath := lo.Invert(l.chars)
	for {
		select {
		case <-l.done:
			return
		case sig := <-l.sigCh:
			if sig == nil || len(sig.Body) < 2 || !strings.HasPrefix(string(sig.Path), string(l.path)) {
				continue
			}
			iface, _ := sig.Body[0].(string)
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			switch {
			case iface == charIface:
				ep, ok := byPath[sig.Path]
				if !ok {
					continue
				}
				if data, ok := changed["Value"].Value().([]byte); ok {
					l.hw.Emit(hardware.Event{Kind: hardware.EventNotification, Endpoint: ep, Data: data})
				}
			case iface == deviceIface && sig.Path == l.path:
				if connected, ok := changed["Connected"].Value().(bool); ok && !connected {
					l.release()
					l.hw.Emit(hardware.Event{Kind: hardware.EventDisconnected})
					return
				}
			}
		}
	}
}

func (l *link) char(ep hardware.Endpoint) dbus.BusObject {
	return l.bus.Object(bluezService, l.chars[ep])
}

func (l *link) WriteValue(ctx context.Context, cmd hardware.WriteCmd) error {
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(lo.Ternary(cmd.WriteWithResponse, "request", "command"))}
	if err := l.char(cmd.Endpoint).CallWithContext(ctx, charIface+".WriteValue", 0, cmd.Data, opts).Err; err != nil {
		return fmt.Errorf("bluez: write %s: %w", cmd.Endpoint, err)
	}
	return nil
}

func (l *link) ReadValue(ctx context.Context, cmd hardware.ReadCmd) ([]byte, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	var data []byte
	call := l.char(cmd.Endpoint).CallWithContext(ctx, charIface+".ReadValue", 0, map[string]dbus.Variant{})
	if call.Err == nil {
		call.Err = call.Store(&data)
	}
	if call.Err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: read %s", hardware.ErrTimeout, cmd.Endpoint)
		}
		return nil, fmt.Errorf("bluez: read %s: %w", cmd.Endpoint, call.Err)
	}
	return data, nil
}

func (l *link) Subscribe(ctx context.Context, ep hardware.Endpoint) error {
	return l.char(ep).CallWithContext(ctx, charIface+".StartNotify", 0).Err
}

func (l *link) Unsubscribe(ctx context.Context, ep hardware.Endpoint) error {
	return l.char(ep).CallWithContext(ctx, charIface+".StopNotify", 0).Err
}

func (l *link) Disconnect() error {
	l.release()
	return l.dev.Call(deviceIface+".Disconnect", 0).Err
}

func (l *link) release() {
	l.once.Do(func() {
		close(l.done)
		_ = l.bus.RemoveMatchSignal(l.match...)
		l.bus.RemoveSignal(l.sigCh)
	})
}
