package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/message"
	"github.com/urmzd/plugd/pkg/message/convert"
	v4 "github.com/urmzd/plugd/pkg/message/v4"
)

// Sink delivers one encoded frame to the client.
type Sink func(frame []byte) error

type inputKey struct {
	device  uint32
	feature uint32
	input   device.InputType
}

type rawKey struct {
	device   uint32
	endpoint hardware.Endpoint
}

// cleanupTimeout bounds the stop and unsubscribe work done on close.
const cleanupTimeout = 2 * time.Second

// Session is one connected client.
type Session struct {
	srv  *Server
	sink Sink
	log  zerolog.Logger

	sendMu sync.Mutex

	mu      sync.Mutex
	ready   bool
	version message.SpecVersion
	client  string
	inputs  map[inputKey]int
	raws    map[rawKey]struct{}
	ping    *time.Timer
	events  <-chan device.Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession starts a session that writes to sink. The first message must
// be RequestServerInfo.
func (s *Server) NewSession(sink Sink) *Session {
	return &Session{
		srv:    s,
		sink:   sink,
		log:    log.With().Str("component", "session").Logger(),
		inputs: make(map[inputKey]int),
		raws:   make(map[rawKey]struct{}),
		done:   make(chan struct{}),
	}
}

// Done is closed when the session ends, either by Close or by the ping
// watchdog.
func (c *Session) Done() <-chan struct{} {
	return c.done
}

// Version returns the negotiated message version.
func (c *Session) Version() message.SpecVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Handle processes one frame from the client. Every message in it gets
// exactly one reply carrying its id.
func (c *Session) Handle(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	raws, err := message.Split(frame)
	if err != nil {
		return c.send(message.NewError(message.SystemID, message.ErrorMsg, err))
	}
	for _, raw := range raws {
		if err := c.send(c.handle(ctx, raw)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Session) handle(ctx context.Context, raw message.Raw) message.Message {
	if raw.ID == message.SystemID {
		return message.NewError(message.SystemID, message.ErrorMsg, ErrReservedID)
	}

	c.mu.Lock()
	ready, version := c.ready, c.version
	c.mu.Unlock()

	if !ready {
		return c.handshake(raw)
	}

	msg, err := convert.Decode(version, raw)
	if err != nil {
		return c.fail(raw.ID, err)
	}

	switch m := msg.(type) {
	case *message.RequestServerInfo:
		return c.fail(raw.ID, fmt.Errorf("%w: session already negotiated %s", ErrHandshake, version))
	case *message.Test:
		return &message.Test{Header: m.Header, TestString: m.TestString}
	case *message.RequestLog:
		c.log.Debug().Str("level", m.LogLevel).Msg("Client requested log forwarding")
		return message.NewOk(raw.ID)
	case *message.Ping:
		c.resetPing()
		return message.NewOk(raw.ID)
	}

	cctx := message.ConversionContext{Devices: c.srv.devices}
	current, err := convert.Upgrade(version, msg, cctx)
	if err != nil {
		return c.fail(raw.ID, err)
	}

	reply, err := c.dispatch(ctx, current)
	if err != nil {
		return c.fail(raw.ID, err)
	}

	cctx.Request = msg
	out, err := convert.Downgrade(version, reply, cctx)
	if err != nil {
		return c.fail(raw.ID, err)
	}
	return out
}

func (c *Session) fail(id uint32, err error) message.Message {
	code := Code(err)
	c.log.Debug().Err(err).Uint32("id", id).Stringer("code", code).Msg("Request failed")
	return message.NewError(id, code, err)
}

// handshake negotiates the message version from RequestServerInfo.
func (c *Session) handshake(raw message.Raw) message.Message {
	if raw.Name != "RequestServerInfo" {
		return c.fail(raw.ID, fmt.Errorf("%w: got %s", ErrHandshake, raw.Name))
	}
	msg, err := message.Common().Decode(raw)
	if err != nil {
		return c.fail(raw.ID, fmt.Errorf("%w: %v", ErrHandshake, err))
	}
	req := msg.(*message.RequestServerInfo)
	if !req.MessageVersion.Valid() {
		return c.fail(raw.ID, fmt.Errorf("%w: client speaks %s, server speaks up to %s", ErrHandshake, req.MessageVersion, message.Current))
	}

	c.mu.Lock()
	c.ready = true
	c.version = req.MessageVersion
	c.client = req.ClientName
	c.log = c.log.With().Str("client", req.ClientName).Stringer("spec_version", req.MessageVersion).Logger()
	if c.srv.opts.MaxPingTime > 0 {
		c.ping = time.AfterFunc(c.srv.opts.MaxPingTime, c.pingExpired)
	}
	c.events = c.srv.devices.Subscribe()
	events := c.events
	c.mu.Unlock()

	go c.forwardEvents(events)

	c.log.Info().Msg("Client connected")
	return &message.ServerInfo{
		Header:         req.Header,
		ServerName:     c.srv.opts.Name,
		MessageVersion: req.MessageVersion,
		MaxPingTime:    uint32(c.srv.opts.MaxPingTime / time.Millisecond),
	}
}

// dispatch runs a current-version request against the device manager.
func (c *Session) dispatch(ctx context.Context, msg message.Message) (message.Message, error) {
	devices := c.srv.devices
	id := msg.MessageID()
	ok := func(err error) (message.Message, error) {
		if err != nil {
			return nil, err
		}
		return message.NewOk(id), nil
	}

	switch m := msg.(type) {
	case *message.StartScanning:
		return ok(devices.StartScanning(ctx))
	case *message.StopScanning:
		return ok(devices.StopScanning(ctx))

	case *message.RequestDeviceList:
		list := &v4.DeviceList{Header: message.Header{ID: id}, Devices: []v4.DeviceMessageInfo{}}
		for _, def := range devices.Devices() {
			list.Devices = append(list.Devices, v4.DeviceInfo(def))
		}
		return list, nil

	case *message.StopDeviceCmd:
		return ok(devices.StopDevice(ctx, m.DeviceIndex))
	case *message.StopAllDevices:
		return ok(devices.StopAllDevices(ctx))

	case *v4.OutputCmd:
		return ok(devices.Output(ctx, m.DeviceIndex, []device.OutputRequest{m.Request()}))
	case *v4.OutputBatch:
		return ok(devices.Output(ctx, m.DeviceIndex, m.Commands))

	case *v4.InputCmd:
		return c.input(ctx, m)

	case *message.RawWriteCmd:
		return ok(devices.RawWrite(ctx, m.DeviceIndex, m.Endpoint, m.Data, m.WriteWithResponse))
	case *message.RawReadCmd:
		data, err := devices.RawRead(ctx, m.DeviceIndex, m.Endpoint, int(m.ExpectedLength), time.Duration(m.Timeout)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return &message.RawReading{Header: m.Header, DeviceIndex: m.DeviceIndex, Endpoint: m.Endpoint, Data: data}, nil
	case *message.RawSubscribeCmd:
		// A client holds each raw endpoint at most once.
		key := rawKey{m.DeviceIndex, m.Endpoint}
		c.mu.Lock()
		_, held := c.raws[key]
		c.mu.Unlock()
		if held {
			return message.NewOk(id), nil
		}
		if err := devices.RawSubscribe(ctx, m.DeviceIndex, m.Endpoint); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.raws[key] = struct{}{}
		c.mu.Unlock()
		return message.NewOk(id), nil
	case *message.RawUnsubscribeCmd:
		key := rawKey{m.DeviceIndex, m.Endpoint}
		c.mu.Lock()
		_, held := c.raws[key]
		delete(c.raws, key)
		c.mu.Unlock()
		if !held {
			return nil, fmt.Errorf("%w: raw %s on device %d", hardware.ErrEndpoint, m.Endpoint, m.DeviceIndex)
		}
		return ok(devices.RawUnsubscribe(ctx, m.DeviceIndex, m.Endpoint))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnexpected, msg.MessageName())
}

// input runs a sensor command. Subscriptions are recorded so Close can
// release them.
func (c *Session) input(ctx context.Context, m *v4.InputCmd) (message.Message, error) {
	key := inputKey{m.DeviceIndex, m.FeatureIndex, m.InputType}

	if m.InputCommand == device.InputUnsubscribe {
		c.mu.Lock()
		held := c.inputs[key] > 0
		c.mu.Unlock()
		if !held {
			return nil, fmt.Errorf("%w: %s on device %d feature %d is not subscribed by this client", device.ErrInvalidFeature, m.InputType, m.DeviceIndex, m.FeatureIndex)
		}
	}

	r, err := c.srv.devices.Input(ctx, m.DeviceIndex, m.FeatureIndex, m.InputType, m.InputCommand)
	if err != nil {
		return nil, err
	}

	switch m.InputCommand {
	case device.InputRead:
		return v4.NewInputReading(m.ID, r), nil
	case device.InputSubscribe:
		c.mu.Lock()
		c.inputs[key]++
		c.mu.Unlock()
	case device.InputUnsubscribe:
		c.mu.Lock()
		if c.inputs[key]--; c.inputs[key] <= 0 {
			delete(c.inputs, key)
		}
		c.mu.Unlock()
	}
	return message.NewOk(m.ID), nil
}

// forwardEvents republishes manager events until the session closes.
func (c *Session) forwardEvents(events <-chan device.Event) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.forward(ev); err != nil {
				c.log.Debug().Err(err).Msg("Event delivery failed")
			}
		}
	}
}

// forward lowers one event to the session version. Events the client
// cannot represent, or did not subscribe to, are skipped.
func (c *Session) forward(ev device.Event) error {
	var msg message.Message
	switch ev.Type {
	case device.EventDeviceAdded:
		if ev.Device == nil {
			return nil
		}
		msg = &v4.DeviceAdded{DeviceMessageInfo: v4.DeviceInfo(ev.Device)}
	case device.EventDeviceRemoved:
		msg = &message.DeviceRemoved{DeviceIndex: ev.Index}
	case device.EventScanningFinished:
		msg = &message.ScanningFinished{}
	case device.EventInputReading:
		if ev.Reading == nil || !c.subscribed(ev.Reading) {
			return nil
		}
		msg = v4.NewInputReading(message.SystemID, *ev.Reading)
	case device.EventRawReading:
		if ev.Raw == nil || !c.rawSubscribed(ev.Raw) {
			return nil
		}
		msg = &message.RawReading{DeviceIndex: ev.Raw.DeviceIndex, Endpoint: ev.Raw.Endpoint, Data: ev.Raw.Data}
	default:
		return nil
	}

	out, err := convert.Downgrade(c.Version(), msg, message.ConversionContext{Devices: c.srv.devices})
	if errors.Is(err, message.ErrConversion) {
		c.log.Debug().Err(err).Str("event", ev.Type).Msg("Event has no equivalent for client")
		return nil
	}
	if err != nil {
		return err
	}
	return c.send(out)
}

func (c *Session) subscribed(r *device.InputReading) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs[inputKey{r.DeviceIndex, r.FeatureIndex, r.Type}] > 0
}

func (c *Session) rawSubscribed(r *device.RawReading) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.raws[rawKey{r.DeviceIndex, r.Endpoint}]
	return ok
}

func (c *Session) send(msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MessageName(), err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.sink(data)
}

func (c *Session) resetPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ping != nil {
		c.ping.Reset(c.srv.opts.MaxPingTime)
	}
}

// pingExpired stops every device, tells the client why and ends the
// session.
func (c *Session) pingExpired() {
	c.log.Warn().Dur("max_ping_time", c.srv.opts.MaxPingTime).Msg("Client missed ping deadline")

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.srv.devices.StopAllDevices(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to stop devices after ping timeout")
	}
	if err := c.send(message.NewError(message.SystemID, message.ErrorPing, ErrPingTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("Failed to report ping timeout")
	}
	c.Close()
}

// Close ends the session, releasing its sensor subscriptions and, unless
// configured otherwise, stopping every device.
func (c *Session) Close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		close(c.done)
		c.sendMu.Unlock()

		c.mu.Lock()
		if c.ping != nil {
			c.ping.Stop()
		}
		events := c.events
		inputs := c.inputs
		raws := c.raws
		c.inputs = make(map[inputKey]int)
		c.raws = make(map[rawKey]struct{})
		ready := c.ready
		c.mu.Unlock()

		if events != nil {
			c.srv.devices.Unsubscribe(events)
		}

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		for key, n := range inputs {
			for range n {
				if _, err := c.srv.devices.Input(ctx, key.device, key.feature, key.input, device.InputUnsubscribe); err != nil {
					c.log.Debug().Err(err).Uint32("device_index", key.device).Msg("Failed to release subscription")
				}
			}
		}
		for key := range raws {
			if err := c.srv.devices.RawUnsubscribe(ctx, key.device, key.endpoint); err != nil {
				c.log.Debug().Err(err).Uint32("device_index", key.device).Msg("Failed to release raw subscription")
			}
		}
		if ready && !c.srv.opts.LeaveDevicesRunning {
			if err := c.srv.devices.StopAllDevices(ctx); err != nil {
				c.log.Warn().Err(err).Msg("Failed to stop devices on disconnect")
			}
		}
		c.log.Info().Msg("Client disconnected")
	})
}
