package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/config"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/protocol"
)

// discover filters a found device and starts its bring-up.
func (m *Manager) discover(ev hardware.CommunicationEvent) {
	logger := log.With().Str("address", ev.Address).Str("name", ev.Name).Logger()

	m.mu.Lock()
	if _, busy := m.addresses[ev.Address]; busy {
		m.mu.Unlock()
		return
	}

	matches := lo.Filter(m.cfg.ProtocolsFor(ev.Connector.Specifier()), func(mt config.Match, _ int) bool {
		_, ok := m.protocols.Get(mt.Protocol)
		return ok
	})
	if len(matches) == 0 {
		m.mu.Unlock()
		logger.Debug().Msg("No protocol matches device")
		return
	}

	if m.cfg.Denied(ev.Address) || !m.cfg.Allowed(ev.Address) {
		m.mu.Unlock()
		logger.Info().Msg("Device denied by user configuration")
		m.outcome(ev, device.StateDenied, device.ErrDenied)
		return
	}

	m.addresses[ev.Address] = struct{}{}
	m.mu.Unlock()

	logger.Info().
		Strs("protocols", lo.Map(matches, func(mt config.Match, _ int) string { return mt.Protocol })).
		Msg("Device discovered")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if !m.bringUp(ev, matches) {
			m.mu.Lock()
			delete(m.addresses, ev.Address)
			m.mu.Unlock()
		}
	}()
}

// outcome publishes the final state of a bring-up pipeline.
func (m *Manager) outcome(ev hardware.CommunicationEvent, state device.SessionState, err error) {
	detail := state.String()
	if err != nil {
		detail += ": " + err.Error()
	}
	m.publish(device.Event{
		Type:   device.EventPipelineOutcome,
		Device: &device.DeviceDefinition{Name: ev.Name, Address: ev.Address},
		Detail: detail,
	})
}

// pipeline tracks one device through bring-up.
type pipeline struct {
	ev    hardware.CommunicationEvent
	state device.SessionState
}

func (p *pipeline) move(next device.SessionState) {
	if !p.state.CanTransition(next) {
		log.Warn().
			Str("address", p.ev.Address).
			Stringer("from", p.state).
			Stringer("to", next).
			Msg("Invalid session transition")
		return
	}
	p.state = next
}

// bringUp tries each matching protocol in order and reports whether the
// device went live.
func (m *Manager) bringUp(ev hardware.CommunicationEvent, matches []config.Match) bool {
	p := &pipeline{ev: ev, state: device.StateDiscovered}
	p.move(device.StateIdentifying)

	var lastErr error
	for _, match := range matches {
		ok, err := m.try(p, match)
		if ok {
			return true
		}
		lastErr = err
		if p.state.Terminal() {
			break
		}
	}
	if !p.state.Terminal() {
		p.move(device.StateIdentifyFailed)
	}

	log.Warn().Err(lastErr).
		Str("address", ev.Address).
		Stringer("state", p.state).
		Msg("Device bring-up failed")
	m.outcome(ev, p.state, lastErr)
	return false
}

// try runs the identify and initialize phases for one protocol. The link is
// torn down on every failure path.
func (m *Manager) try(p *pipeline, match config.Match) (bool, error) {
	factory, _ := m.protocols.Get(match.Protocol)
	logger := log.With().Str("address", p.ev.Address).Str("protocol", match.Protocol).Logger()

	ctx, cancel := context.WithTimeout(m.ctx, m.phaseTimeout)
	hw, err := p.ev.Connector.Connect(ctx, match.Specifier)
	if err != nil {
		cancel()
		return false, fmt.Errorf("%w: %v", hardware.ErrConnect, err)
	}
	stop := watchLink(ctx, cancel, hw)

	fail := func(err error) (bool, error) {
		stop()
		if !hw.Connected() {
			p.move(device.StateDisconnected)
			err = errors.Join(hardware.ErrDisconnected, err)
		} else if derr := hw.Disconnect(); derr != nil {
			logger.Debug().Err(derr).Msg("Disconnect after failed bring-up")
		}
		return false, err
	}

	id, initializer, err := factory.NewIdentifier().Identify(ctx, hw)
	if err != nil {
		return fail(fmt.Errorf("identify %s: %w", match.Protocol, err))
	}
	def, err := m.cfg.Definition(id, hw.Name())
	if err != nil {
		return fail(err)
	}
	if def.Deny {
		p.move(device.StateDenied)
		return fail(device.ErrDenied)
	}
	stop()

	p.move(device.StateInitializing)
	ctx, cancel = context.WithTimeout(m.ctx, m.phaseTimeout)
	stop = watchLink(ctx, cancel, hw)
	handler, err := initializer.Initialize(ctx, hw, def)
	if err != nil {
		if hw.Connected() {
			p.move(device.StateInitFailed)
		}
		return fail(fmt.Errorf("initialize %s: %w", match.Protocol, err))
	}
	stop()
	if !hw.Connected() {
		p.move(device.StateDisconnected)
		return false, hardware.ErrDisconnected
	}

	p.move(device.StateLive)
	m.goLive(hw, def, handler)
	logger.Info().Uint32("device_index", def.Index).Str("device", def.Label()).Msg("Device live")
	m.outcome(p.ev, p.state, nil)
	return true, nil
}

// watchLink cancels ctx if the device drops. The returned func releases
// the watcher and ctx.
func watchLink(ctx context.Context, cancel context.CancelFunc, hw *hardware.Hardware) func() {
	go func() {
		select {
		case <-hw.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return cancel
}

// goLive assigns an index, registers the session and announces the device.
func (m *Manager) goLive(hw *hardware.Hardware, def *device.DeviceDefinition, handler protocol.Handler) {
	m.mu.Lock()
	def.Index = m.assignIndex(def.Address)
	s := newSession(m, hw, def, handler)
	m.sessions[def.Index] = s
	m.mu.Unlock()

	if m.identities != nil {
		if err := m.identities.Remember(m.ctx, def); err != nil {
			log.Warn().Err(err).Str("address", def.Address).Msg("Failed to persist device identity")
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run()
		m.remove(s)
	}()

	m.publish(device.Event{Type: device.EventDeviceAdded, Device: def.Clone(), Index: def.Index})
}

// remove forgets a session after its link dropped.
func (m *Manager) remove(s *session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.def.Index]; ok && cur == s {
		delete(m.sessions, s.def.Index)
	}
	delete(m.addresses, s.def.Address)
	m.mu.Unlock()

	log.Info().Uint32("device_index", s.def.Index).Str("address", s.def.Address).Msg("Device removed")
	m.publish(device.Event{Type: device.EventDeviceRemoved, Index: s.def.Index})
}

// assignIndex picks the user-reserved index, then the persisted one, then
// the lowest free index nobody has reserved. Caller holds m.mu.
func (m *Manager) assignIndex(address string) uint32 {
	if idx, ok := m.cfg.ReservedIndex(address); ok && !m.taken(idx) {
		return idx
	}

	reserved := lo.SliceToMap(lo.FilterMap(m.cfg.UserConfigs(), func(u config.UserDevice, _ int) (uint32, bool) {
		if u.Config.Index == nil || u.Identifier.Address == address {
			return 0, false
		}
		return *u.Config.Index, true
	}), func(i uint32) (uint32, struct{}) { return i, struct{}{} })

	if m.identities != nil {
		idx, ok, err := m.identities.Index(m.ctx, address)
		if err != nil {
			log.Warn().Err(err).Str("address", address).Msg("Failed to look up persisted index")
		}
		if _, held := reserved[idx]; ok && !held && !m.taken(idx) {
			return idx
		}
	}

	for idx := uint32(0); ; idx++ {
		if _, held := reserved[idx]; !held && !m.taken(idx) {
			return idx
		}
	}
}

func (m *Manager) taken(idx uint32) bool {
	_, ok := m.sessions[idx]
	return ok
}
