// Package hardwaretest provides in-memory hardware for exercising protocol
// handlers and the device manager without a real transport.
package hardwaretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Device is a scripted fake transport connection.
type Device struct {
	hw *hardware.Hardware

	mu           sync.Mutex
	writes       []hardware.WriteCmd
	subscribes   map[hardware.Endpoint]int
	unsubscribes map[hardware.Endpoint]int
	reads        map[hardware.Endpoint][][]byte
	writeErr     error
	onWrite      func(hardware.WriteCmd)
	writeHook    chan hardware.WriteCmd
}

// NewDevice creates a fake device exposing the given endpoints. With no
// endpoints it exposes tx, rx and rxblebattery.
func NewDevice(name, address string, endpoints ...hardware.Endpoint) *Device {
	if len(endpoints) == 0 {
		endpoints = []hardware.Endpoint{hardware.EndpointTx, hardware.EndpointRx, hardware.EndpointRxBLEBattery}
	}
	d := &Device{
		subscribes:   make(map[hardware.Endpoint]int),
		unsubscribes: make(map[hardware.Endpoint]int),
		reads:        make(map[hardware.Endpoint][][]byte),
	}
	d.hw = hardware.New(name, address, endpoints, d)
	return d
}

// Hardware returns the wrapped connection handed to protocol code.
func (d *Device) Hardware() *hardware.Hardware { return d.hw }

// Writes returns a copy of every write seen so far.
func (d *Device) Writes() []hardware.WriteCmd {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]hardware.WriteCmd, len(d.writes))
	copy(out, d.writes)
	return out
}

// ClearWrites forgets recorded writes.
func (d *Device) ClearWrites() {
	d.mu.Lock()
	d.writes = nil
	d.mu.Unlock()
}

// WriteChannel returns a channel that receives every subsequent write. It
// has room for 64 writes; later writes are not delivered to it.
func (d *Device) WriteChannel() <-chan hardware.WriteCmd {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeHook == nil {
		d.writeHook = make(chan hardware.WriteCmd, 64)
	}
	return d.writeHook
}

// FailWrites makes every later write return err. Pass nil to recover.
func (d *Device) FailWrites(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// OnWrite installs a callback run after each successful write. It is used
// to script replies, for example by calling Notify.
func (d *Device) OnWrite(fn func(hardware.WriteCmd)) {
	d.mu.Lock()
	d.onWrite = fn
	d.mu.Unlock()
}

// QueueRead queues replies returned by ReadValue on ep in order.
func (d *Device) QueueRead(ep hardware.Endpoint, data ...[]byte) {
	d.mu.Lock()
	d.reads[ep] = append(d.reads[ep], data...)
	d.mu.Unlock()
}

// Notify injects a notification from the device.
func (d *Device) Notify(ep hardware.Endpoint, data []byte) {
	d.hw.Emit(hardware.Event{Kind: hardware.EventNotification, Endpoint: ep, Data: data})
}

// Drop simulates the device going out of range.
func (d *Device) Drop() {
	d.hw.Emit(hardware.Event{Kind: hardware.EventDisconnected})
}

// SubscribeCount returns how many times ep was subscribed.
func (d *Device) SubscribeCount(ep hardware.Endpoint) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscribes[ep]
}

// UnsubscribeCount returns how many times ep was unsubscribed.
func (d *Device) UnsubscribeCount(ep hardware.Endpoint) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unsubscribes[ep]
}

func (d *Device) WriteValue(ctx context.Context, cmd hardware.WriteCmd) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.writeErr != nil {
		err := d.writeErr
		d.mu.Unlock()
		return err
	}
	d.writes = append(d.writes, cmd)
	hook := d.writeHook
	fn := d.onWrite
	d.mu.Unlock()

	if hook != nil {
		select {
		case hook <- cmd:
		default:
		}
	}
	if fn != nil {
		fn(cmd)
	}
	return nil
}

func (d *Device) ReadValue(ctx context.Context, cmd hardware.ReadCmd) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := d.reads[cmd.Endpoint]
	if len(queue) == 0 {
		return nil, fmt.Errorf("%w: no scripted read on %s", hardware.ErrTimeout, cmd.Endpoint)
	}
	d.reads[cmd.Endpoint] = queue[1:]
	return queue[0], nil
}

func (d *Device) Subscribe(_ context.Context, ep hardware.Endpoint) error {
	d.mu.Lock()
	d.subscribes[ep]++
	d.mu.Unlock()
	return nil
}

func (d *Device) Unsubscribe(_ context.Context, ep hardware.Endpoint) error {
	d.mu.Lock()
	d.unsubscribes[ep]++
	d.mu.Unlock()
	return nil
}

func (d *Device) Disconnect() error {
	return nil
}
