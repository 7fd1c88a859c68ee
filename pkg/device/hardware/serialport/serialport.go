// Package serialport discovers devices on serial ports declared by the
// device configuration and drives them through a framed read loop.
package serialport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"go.bug.st/serial"
)

// Name is the communication manager name.
const Name = "serial"

// DefaultReadTimeout applies to reads that do not set their own timeout.
const DefaultReadTimeout = time.Second

// Opener opens a port with the given mode.
type Opener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

// Options configures the serial communication manager.
type Options struct {
	// Specifiers are the declared serial specifiers; only ports matching
	// one of them are reported.
	Specifiers []*hardware.SerialSpecifier
	// ListPorts enumerates port paths. Defaults to serial.GetPortsList.
	ListPorts func() ([]string, error)
	// Open defaults to serial.Open.
	Open        Opener
	ReadTimeout time.Duration
}

// Builder returns a CommunicationManagerBuilder for the device manager.
func Builder(opts Options) hardware.CommunicationManagerBuilder {
	return func(events chan<- hardware.CommunicationEvent) (hardware.CommunicationManager, error) {
		return New(opts, events), nil
	}
}

// Manager scans serial ports.
type Manager struct {
	opts     Options
	events   chan<- hardware.CommunicationEvent
	scanning atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
}

// New creates a serial communication manager reporting to events.
func New(opts Options, events chan<- hardware.CommunicationEvent) *Manager {
	if opts.ListPorts == nil {
		opts.ListPorts = serial.GetPortsList
	}
	if opts.Open == nil {
		opts.Open = openPort
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	return &Manager{opts: opts, events: events}
}

func (m *Manager) Name() string   { return Name }
func (m *Manager) Scanning() bool { return m.scanning.Load() }

// StartScanning enumerates ports once and reports every port matching a
// declared specifier, followed by ScanningFinished.
func (m *Manager) StartScanning(ctx context.Context) error {
	ports, err := m.opts.ListPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}

	found := lo.Filter(ports, func(path string, _ int) bool {
		discovered := &hardware.SerialSpecifier{Port: path}
		return lo.ContainsBy(m.opts.Specifiers, func(s *hardware.SerialSpecifier) bool {
			return s.Matches(discovered)
		})
	})

	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	m.scanning.Store(true)
	log.Debug().Int("ports", len(ports)).Int("matching", len(found)).Msg("Serial scan started")

	go func() {
		defer m.scanning.Store(false)
		for _, path := range found {
			ev := hardware.CommunicationEvent{
				Kind:      hardware.DeviceFound,
				Manager:   Name,
				Name:      path,
				Address:   path,
				Connector: &connector{m: m, path: path},
			}
			select {
			case m.events <- ev:
			case <-stop:
				return
			}
		}
		select {
		case m.events <- hardware.CommunicationEvent{Kind: hardware.ScanningFinished, Manager: Name}:
		case <-stop:
		}
	}()
	return nil
}

func (m *Manager) StopScanning(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.scanning.Store(false)
	return nil
}

type connector struct {
	m    *Manager
	path string
}

func (c *connector) Specifier() hardware.Specifier {
	return &hardware.SerialSpecifier{Port: c.path}
}

// Connect opens the port with the settings of the declared specifier.
func (c *connector) Connect(ctx context.Context, declared hardware.Specifier) (*hardware.Hardware, error) {
	spec, ok := declared.(*hardware.SerialSpecifier)
	if !ok {
		return nil, fmt.Errorf("%w: serial port %s given %T", hardware.ErrConnect, c.path, declared)
	}
	mode, err := modeFor(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", hardware.ErrConnect, c.path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := c.m.opts.Open(c.path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open serial port %s: %w", hardware.ErrConnect, c.path, err)
	}

	link := &link{
		port:        port,
		terminator:  []byte(spec.Terminator),
		readTimeout: c.m.opts.ReadTimeout,
		frames:      make(chan []byte, 16),
	}
	link.hw = hardware.New(c.path, c.path, []hardware.Endpoint{hardware.EndpointTx, hardware.EndpointRx}, link)
	go link.readLoop()

	log.Info().Str("port", c.path).Int("baud", mode.BaudRate).Msg("Serial port opened")
	return link.hw, nil
}

func openPort(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(path, mode)
}

// modeFor maps a declared specifier to port settings, defaulting to 8N1.
func modeFor(s *hardware.SerialSpecifier) (*serial.Mode, error) {
	if s.BaudRate <= 0 {
		return nil, errors.New("baud rate is required")
	}
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: lo.Ternary(s.DataBits > 0, s.DataBits, 8),
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch s.Parity {
	case "", "N", "n", "none":
	case "E", "e", "even":
		mode.Parity = serial.EvenParity
	case "O", "o", "odd":
		mode.Parity = serial.OddParity
	case "M", "m", "mark":
		mode.Parity = serial.MarkParity
	case "S", "s", "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unknown parity %q", s.Parity)
	}
	switch s.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", s.StopBits)
	}
	return mode, nil
}

// link is the transport side of one open port. Frames go to subscribers of
// rx as notifications, otherwise they queue for ReadValue.
type link struct {
	hw          *hardware.Hardware
	port        io.ReadWriteCloser
	terminator  []byte
	readTimeout time.Duration
	frames      chan []byte

	writeMu    sync.Mutex
	subscribed atomic.Bool
	closing    atomic.Bool
}

func (l *link) readLoop() {
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = l.flush(pending)
		}
		if err != nil {
			if !l.closing.Load() {
				log.Warn().Err(err).Str("port", l.hw.Address()).Msg("Serial read failed")
			}
			_ = l.port.Close()
			l.hw.Emit(hardware.Event{Kind: hardware.EventDisconnected})
			return
		}
	}
}

// flush delivers complete frames from pending and returns the remainder.
// Without a terminator every chunk is a frame.
func (l *link) flush(pending []byte) []byte {
	if len(l.terminator) == 0 {
		l.deliver(pending)
		return nil
	}
	for {
		i := bytes.Index(pending, l.terminator)
		if i < 0 {
			return pending
		}
		end := i + len(l.terminator)
		l.deliver(pending[:end])
		pending = pending[end:]
	}
}

func (l *link) deliver(frame []byte) {
	frame = bytes.Clone(frame)
	if l.subscribed.Load() {
		l.hw.Emit(hardware.Event{Kind: hardware.EventNotification, Endpoint: hardware.EndpointRx, Data: frame})
		return
	}
	select {
	case l.frames <- frame:
	default:
		log.Debug().Str("port", l.hw.Address()).Hex("data", frame).Msg("Dropping unread serial frame")
	}
}

func (l *link) WriteValue(ctx context.Context, cmd hardware.WriteCmd) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(cmd.Data); err != nil {
		return fmt.Errorf("%w: %w", hardware.ErrDisconnected, err)
	}
	return nil
}

// ReadValue returns the next unread frame.
func (l *link) ReadValue(ctx context.Context, cmd hardware.ReadCmd) ([]byte, error) {
	timeout := lo.Ternary(cmd.Timeout > 0, cmd.Timeout, l.readTimeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-l.frames:
		return frame, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: serial read on %s", hardware.ErrTimeout, l.hw.Address())
	case <-l.hw.Done():
		return nil, hardware.ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *link) Subscribe(_ context.Context, ep hardware.Endpoint) error {
	if ep != hardware.EndpointRx {
		return fmt.Errorf("%w: serial notifications only on rx", hardware.ErrEndpoint)
	}
	l.subscribed.Store(true)
	return nil
}

func (l *link) Unsubscribe(_ context.Context, ep hardware.Endpoint) error {
	if ep != hardware.EndpointRx {
		return fmt.Errorf("%w: serial notifications only on rx", hardware.ErrEndpoint)
	}
	l.subscribed.Store(false)
	return nil
}

func (l *link) Disconnect() error {
	l.closing.Store(true)
	return l.port.Close()
}
