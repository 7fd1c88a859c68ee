package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/protocol"
)

// request is one unit of work for a session's command pump.
type request struct {
	ctx     context.Context
	outputs []device.OutputRequest
	stop    bool
	reply   chan error
}

// session is a live device. Its command pump is the only writer of output
// commands, so at most one update and write is in flight per device.
type session struct {
	m        *Manager
	hw       *hardware.Hardware
	def      *device.DeviceDefinition
	handler  protocol.Handler
	commands *protocol.CommandManager
	log      zerolog.Logger

	requests chan *request
	ctx      context.Context
	cancel   context.CancelFunc

	// pump state
	last      []hardware.Command
	lastWrite time.Time

	// raw counts holders of each raw endpoint subscription.
	rawMu sync.Mutex
	raw   map[hardware.Endpoint]int
}

func newSession(m *Manager, hw *hardware.Hardware, def *device.DeviceDefinition, handler protocol.Handler) *session {
	ctx, cancel := context.WithCancel(m.ctx)
	return &session{
		m:        m,
		hw:       hw,
		def:      def,
		handler:  handler,
		commands: protocol.NewCommandManager(def.Features),
		log: log.With().
			Uint32("device_index", def.Index).
			Str("address", def.Address).
			Str("protocol", def.Protocol).
			Logger(),
		requests: make(chan *request),
		ctx:      ctx,
		cancel:   cancel,
		raw:      make(map[hardware.Endpoint]int),
	}
}

// submit hands req to the pump and waits for its result.
func (s *session) submit(ctx context.Context, req *request) error {
	req.ctx = ctx
	req.reply = make(chan error, 1)

	select {
	case s.requests <- req:
	case <-s.ctx.Done():
		return fmt.Errorf("%w: device %d", hardware.ErrDisconnected, s.def.Index)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the command pump. It returns once the device disconnects or the
// manager shuts down.
func (s *session) run() {
	defer s.cancel()

	readings := s.handler.Readings().Subscribe()
	defer s.handler.Readings().Unsubscribe(readings)
	stream := s.hw.EventStream()
	defer s.hw.ReleaseEventStream(stream)

	strategy := s.handler.KeepaliveStrategy()
	var (
		keepalive *time.Timer
		tick      <-chan time.Time
	)
	if strategy.Enabled() {
		keepalive = time.NewTimer(strategy.Interval)
		defer keepalive.Stop()
		tick = keepalive.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.hw.Done():
			return

		case req := <-s.requests:
			req.reply <- s.apply(req)
			if keepalive != nil {
				keepalive.Reset(strategy.Interval)
			}

		case <-tick:
			s.keepalive(strategy)
			keepalive.Reset(strategy.Interval)

		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			r.DeviceIndex = s.def.Index
			s.m.publish(device.Event{Type: device.EventInputReading, Index: s.def.Index, Reading: &r})

		case ev, ok := <-stream:
			if !ok {
				return
			}
			s.relayRaw(ev)
		}
	}
}

// apply diffs a request against the cache and writes what changed. A
// failed write forgets the affected values so a retry is not elided.
func (s *session) apply(req *request) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}

	var changed []*protocol.OutputValue
	if req.stop {
		changed = s.commands.Stop()
	} else {
		var err error
		if changed, err = s.commands.Update(req.outputs); err != nil {
			return err
		}
	}

	cmds, err := protocol.Plan(s.handler, s.def.Features, changed, s.commands.Current())
	if err != nil {
		s.abandon(changed, err)
		return err
	}
	if len(cmds) == 0 {
		protocol.Settle(s.handler, nil)
		return nil
	}
	if err := s.write(req.ctx, cmds); err != nil {
		s.abandon(changed, err)
		s.log.Warn().Err(err).Msg("Output write failed")
		return err
	}
	protocol.Settle(s.handler, nil)
	s.last = cmds
	return nil
}

// abandon forgets values that never reached the device, in the cache and
// in whatever the handler staged for them.
func (s *session) abandon(changed []*protocol.OutputValue, err error) {
	s.commands.Invalidate(protocol.Changed(changed)...)
	protocol.Settle(s.handler, err)
}

// write sends cmds, first waiting out the device's message gap.
func (s *session) write(ctx context.Context, cmds []hardware.Command) error {
	if wait := s.def.MessageGap - time.Since(s.lastWrite); s.def.MessageGap > 0 && wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.hw.Done():
			t.Stop()
			return hardware.ErrDisconnected
		}
	}
	for _, c := range cmds {
		if _, err := s.hw.Exec(ctx, c); err != nil {
			return err
		}
	}
	s.lastWrite = time.Now()
	return nil
}

func (s *session) keepalive(strategy protocol.KeepaliveStrategy) {
	cmds := strategy.Packet
	if strategy.RepeatsLast() {
		cmds = s.last
	}
	if len(cmds) == 0 {
		return
	}
	if err := s.write(s.ctx, cmds); err != nil {
		s.log.Debug().Err(err).Msg("Keepalive write failed")
	}
}

// input runs a sensor command against the handler. Reads do not go through
// the pump.
func (s *session) input(ctx context.Context, featureIndex uint32, t device.InputType, cmd device.InputCommand) (device.InputReading, error) {
	f, err := s.def.Feature(featureIndex)
	if err != nil {
		return device.InputReading{}, err
	}
	props, ok := f.Input[t]
	if !ok {
		return device.InputReading{}, fmt.Errorf("%w: feature %d has no %s input", device.ErrInvalidFeature, featureIndex, t)
	}
	need := lo.Ternary(cmd == device.InputUnsubscribe, device.InputSubscribe, cmd)
	if !lo.Contains(props.Commands, need) {
		return device.InputReading{}, fmt.Errorf("%w: %s on %s input of feature %d", device.ErrUnsupported, cmd, t, featureIndex)
	}

	switch cmd {
	case device.InputRead:
		r, err := s.handler.InputRead(ctx, s.hw, featureIndex, f.ID, t)
		if err != nil {
			return device.InputReading{}, err
		}
		r.DeviceIndex = s.def.Index
		return r, nil
	case device.InputSubscribe:
		return device.InputReading{}, s.handler.InputSubscribe(ctx, s.hw, featureIndex, f.ID, t)
	case device.InputUnsubscribe:
		return device.InputReading{}, s.handler.InputUnsubscribe(ctx, s.hw, featureIndex, f.ID, t)
	}
	return device.InputReading{}, fmt.Errorf("%w: input command %q", device.ErrUnsupported, cmd)
}

// rawSubscribe subscribes ep on the first hold. The lock is held across
// the hardware call so a concurrent holder never sees an unfinished
// subscribe.
func (s *session) rawSubscribe(ctx context.Context, ep hardware.Endpoint) error {
	s.rawMu.Lock()
	defer s.rawMu.Unlock()
	if s.raw[ep] > 0 {
		s.raw[ep]++
		return nil
	}
	if err := s.hw.Subscribe(ctx, ep); err != nil {
		return err
	}
	s.raw[ep] = 1
	return nil
}

func (s *session) rawUnsubscribe(ctx context.Context, ep hardware.Endpoint) error {
	s.rawMu.Lock()
	defer s.rawMu.Unlock()
	switch n := s.raw[ep]; {
	case n == 0:
		return fmt.Errorf("%w: %s", protocol.ErrNotSubscribed, ep)
	case n > 1:
		s.raw[ep] = n - 1
		return nil
	}
	delete(s.raw, ep)
	return s.hw.Unsubscribe(ctx, ep)
}

func (s *session) relayRaw(ev hardware.Event) {
	if ev.Kind != hardware.EventNotification {
		return
	}
	s.rawMu.Lock()
	held := s.raw[ev.Endpoint] > 0
	s.rawMu.Unlock()
	if !held {
		return
	}
	s.m.publish(device.Event{
		Type:  device.EventRawReading,
		Index: s.def.Index,
		Raw:   &device.RawReading{DeviceIndex: s.def.Index, Endpoint: ev.Endpoint, Data: ev.Data},
	})
}
