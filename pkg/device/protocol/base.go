package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/broadcast"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Sensor read deadlines.
const (
	ReadTimeout  = time.Second
	ReadAttempts = 3
)

// InputBinding says where a sensor's data arrives and how to decode it.
type InputBinding struct {
	Endpoint hardware.Endpoint
	// Request, when set, is written to prompt the device and the reply is
	// awaited as a notification on Endpoint. Without it the endpoint is read
	// directly.
	Request []hardware.Command
	Decode  func(data []byte) (int32, bool)
}

// BatteryLevel decodes the standard BLE battery characteristic.
func BatteryLevel(data []byte) (int32, bool) {
	if len(data) < 1 {
		return 0, false
	}
	return int32(data[0]), true
}

// StandardBattery reads the BLE battery service.
var StandardBattery = InputBinding{Endpoint: hardware.EndpointRxBLEBattery, Decode: BatteryLevel}

type inputKey struct {
	feature uint32
	input   device.InputType
}

type activeInput struct {
	binding InputBinding
	count   int
}

// Base implements every Handler method as unsupported except for sensor
// plumbing driven by Inputs. Vendor handlers embed it and override what the
// device can do.
type Base struct {
	Protocol string
	// Inputs maps sensor kinds to bindings. A nil map means the standard BLE
	// battery service only.
	Inputs map[device.InputType]InputBinding

	Subscriptions SubscriptionTracker

	once     sync.Once
	readings *broadcast.Hub[device.InputReading]

	mu       sync.Mutex
	active   map[inputKey]*activeInput
	watching bool
}

func (b *Base) KeepaliveStrategy() KeepaliveStrategy { return NoKeepalive() }

func (b *Base) NeedsFullCommandSet() bool { return false }

func (b *Base) unsupported(what string) error {
	return &Error{Protocol: b.Protocol, Detail: what, Err: device.ErrUnsupported}
}

func (b *Base) OutputVibrate(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("vibrate")
}

func (b *Base) OutputRotate(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("rotate")
}

func (b *Base) OutputRotateWithDirection(uint32, uuid.UUID, int32, bool) ([]hardware.Command, error) {
	return nil, b.unsupported("rotate with direction")
}

func (b *Base) OutputOscillate(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("oscillate")
}

func (b *Base) OutputConstrict(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("constrict")
}

func (b *Base) OutputInflate(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("inflate")
}

func (b *Base) OutputLed(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("led")
}

func (b *Base) OutputPosition(uint32, uuid.UUID, int32) ([]hardware.Command, error) {
	return nil, b.unsupported("position")
}

func (b *Base) OutputPositionWithDuration(uint32, uuid.UUID, int32, uint32) ([]hardware.Command, error) {
	return nil, b.unsupported("position with duration")
}

func (b *Base) OutputVector([]*OutputValue) ([]hardware.Command, error) {
	return nil, b.unsupported("output vector")
}

func (b *Base) Readings() *broadcast.Hub[device.InputReading] {
	b.once.Do(func() {
		b.readings = broadcast.New[device.InputReading]("readings:"+b.Protocol, 0)
	})
	return b.readings
}

func (b *Base) binding(t device.InputType) (InputBinding, error) {
	if b.Inputs == nil {
		if t == device.InputBattery {
			return StandardBattery, nil
		}
		return InputBinding{}, b.unsupported(fmt.Sprintf("input %s", t))
	}
	bind, ok := b.Inputs[t]
	if !ok {
		return InputBinding{}, b.unsupported(fmt.Sprintf("input %s", t))
	}
	return bind, nil
}

// InputRead performs a one-shot read with a bounded deadline and retry
// count. A subscription taken only for this read is released before return.
func (b *Base) InputRead(ctx context.Context, hw *hardware.Hardware, featureIndex uint32, _ uuid.UUID, t device.InputType) (device.InputReading, error) {
	bind, err := b.binding(t)
	if err != nil {
		return device.InputReading{}, err
	}
	reading := device.InputReading{FeatureIndex: featureIndex, Type: t}

	if len(bind.Request) == 0 {
		var lastErr error
		for attempt := 0; attempt < ReadAttempts; attempt++ {
			data, err := hw.Read(ctx, hardware.ReadCmd{Endpoint: bind.Endpoint, ExpectedLength: 1, Timeout: ReadTimeout})
			if err != nil {
				lastErr = err
				if hw.Connected() && ctx.Err() == nil {
					continue
				}
				break
			}
			if v, ok := bind.Decode(data); ok {
				reading.Value = v
				return reading, nil
			}
			lastErr = fmt.Errorf("%w: unreadable value %x", ErrHandshake, data)
		}
		return device.InputReading{}, &Error{Protocol: b.Protocol, Detail: fmt.Sprintf("read %s", t), Err: lastErr}
	}

	if err := b.Subscriptions.Acquire(ctx, hw, bind.Endpoint); err != nil {
		return device.InputReading{}, &Error{Protocol: b.Protocol, Detail: fmt.Sprintf("read %s", t), Err: err}
	}
	defer func() {
		// ctx may already be done; the release must still reach the device.
		if err := b.Subscriptions.Release(context.WithoutCancel(ctx), hw, bind.Endpoint); err != nil && hw.Connected() {
			log.Warn().Err(err).Str("address", hw.Address()).Msg("Failed to release read subscription")
		}
	}()

	var value int32
	accept := func(data []byte) bool {
		v, ok := bind.Decode(data)
		if ok {
			value = v
		}
		return ok
	}
	if _, err := RequestReply(ctx, hw, bind.Request, bind.Endpoint, ReadTimeout, ReadAttempts, accept); err != nil {
		return device.InputReading{}, &Error{Protocol: b.Protocol, Detail: fmt.Sprintf("read %s", t), Err: err}
	}
	reading.Value = value
	return reading, nil
}

// InputSubscribe starts streaming a sensor into Readings. Repeated
// subscriptions to the same sensor share one hardware subscription.
func (b *Base) InputSubscribe(ctx context.Context, hw *hardware.Hardware, featureIndex uint32, _ uuid.UUID, t device.InputType) error {
	bind, err := b.binding(t)
	if err != nil {
		return err
	}
	if err := b.Subscriptions.Acquire(ctx, hw, bind.Endpoint); err != nil {
		return &Error{Protocol: b.Protocol, Detail: fmt.Sprintf("subscribe %s", t), Err: err}
	}

	key := inputKey{feature: featureIndex, input: t}
	b.mu.Lock()
	if b.active == nil {
		b.active = make(map[inputKey]*activeInput)
	}
	if a, ok := b.active[key]; ok {
		a.count++
	} else {
		b.active[key] = &activeInput{binding: bind, count: 1}
	}
	start := !b.watching
	b.watching = true
	b.mu.Unlock()

	if start {
		go b.watch(hw, hw.EventStream())
	}
	return nil
}

func (b *Base) InputUnsubscribe(ctx context.Context, hw *hardware.Hardware, featureIndex uint32, _ uuid.UUID, t device.InputType) error {
	key := inputKey{feature: featureIndex, input: t}

	b.mu.Lock()
	a, ok := b.active[key]
	if !ok {
		b.mu.Unlock()
		return &Error{Protocol: b.Protocol, Detail: fmt.Sprintf("unsubscribe %s", t), Err: ErrNotSubscribed}
	}
	a.count--
	if a.count == 0 {
		delete(b.active, key)
	}
	b.mu.Unlock()

	return b.Subscriptions.Release(ctx, hw, a.binding.Endpoint)
}

// watch decodes notifications for active subscriptions until the device
// disconnects.
func (b *Base) watch(hw *hardware.Hardware, stream <-chan hardware.Event) {
	defer hw.ReleaseEventStream(stream)
	hub := b.Readings()

	for ev := range stream {
		if ev.Kind == hardware.EventDisconnected {
			break
		}

		b.mu.Lock()
		var out []device.InputReading
		for key, a := range b.active {
			if a.binding.Endpoint != ev.Endpoint {
				continue
			}
			if v, ok := a.binding.Decode(ev.Data); ok {
				out = append(out, device.InputReading{FeatureIndex: key.feature, Type: key.input, Value: v})
			}
		}
		b.mu.Unlock()

		for _, r := range out {
			hub.Publish(r)
		}
	}

	b.mu.Lock()
	b.watching = false
	b.active = nil
	b.mu.Unlock()
}
