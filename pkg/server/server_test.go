package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/broadcast"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/protocol"
	"github.com/urmzd/plugd/pkg/message"
	"github.com/urmzd/plugd/pkg/message/convert"
	v2 "github.com/urmzd/plugd/pkg/message/v2"
	v4 "github.com/urmzd/plugd/pkg/message/v4"
)

type inputCall struct {
	index   uint32
	feature uint32
	input   device.InputType
	cmd     device.InputCommand
}

type fakeDevices struct {
	hub *broadcast.Hub[device.Event]

	mu      sync.Mutex
	defs    map[uint32]*device.DeviceDefinition
	outputs [][]device.OutputRequest
	inputs  []inputCall
	stops   int
	battery int32
	raws    map[hardware.Endpoint]int
}

func newFakeDevices() *fakeDevices {
	vibe := func() device.DeviceFeature {
		return device.DeviceFeature{
			ID:          uuid.New(),
			FeatureType: device.FeatureVibrate,
			Output:      map[device.OutputType]device.OutputProperties{device.OutputVibrate: {StepRange: device.Range(0, 20)}},
		}
	}
	battery := device.DeviceFeature{
		ID:          uuid.New(),
		FeatureType: device.FeatureBattery,
		Input: map[device.InputType]device.InputProperties{device.InputBattery: {
			ValueRange: []device.RangeInclusive{device.Range(0, 100)},
			Commands:   []device.InputCommand{device.InputRead, device.InputSubscribe},
		}},
	}
	return &fakeDevices{
		hub: broadcast.New[device.Event]("test", 16),
		defs: map[uint32]*device.DeviceDefinition{
			0: {Index: 0, Name: "Edge", Address: "aa", Protocol: "lovense", Features: []device.DeviceFeature{vibe(), vibe(), battery}},
		},
		battery: 66,
		raws:    make(map[hardware.Endpoint]int),
	}
}

func (f *fakeDevices) Device(index uint32) (*device.DeviceDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", device.ErrNotFound, index)
	}
	return def, nil
}

func (f *fakeDevices) Devices() []*device.DeviceDefinition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*device.DeviceDefinition, 0, len(f.defs))
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out
}

func (f *fakeDevices) Subscribe() <-chan device.Event     { return f.hub.Subscribe() }
func (f *fakeDevices) Unsubscribe(ch <-chan device.Event) { f.hub.Unsubscribe(ch) }

func (f *fakeDevices) StartScanning(context.Context) error      { return nil }
func (f *fakeDevices) StopScanning(context.Context) error       { return nil }
func (f *fakeDevices) StopDevice(context.Context, uint32) error { return nil }

func (f *fakeDevices) Output(_ context.Context, index uint32, reqs []device.OutputRequest) error {
	if _, err := f.Device(index); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, reqs)
	return nil
}

func (f *fakeDevices) StopAllDevices(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeDevices) Input(_ context.Context, index, feature uint32, t device.InputType, cmd device.InputCommand) (device.InputReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, inputCall{index, feature, t, cmd})
	if cmd == device.InputRead {
		return device.InputReading{DeviceIndex: index, FeatureIndex: feature, Type: t, Value: f.battery}, nil
	}
	return device.InputReading{}, nil
}

func (f *fakeDevices) RawWrite(context.Context, uint32, hardware.Endpoint, []byte, bool) error {
	return device.ErrUnsupported
}

func (f *fakeDevices) RawRead(context.Context, uint32, hardware.Endpoint, int, time.Duration) ([]byte, error) {
	return nil, device.ErrUnsupported
}

func (f *fakeDevices) RawSubscribe(_ context.Context, _ uint32, ep hardware.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws[ep]++
	return nil
}

func (f *fakeDevices) RawUnsubscribe(_ context.Context, _ uint32, ep hardware.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raws[ep] == 0 {
		return protocol.ErrNotSubscribed
	}
	f.raws[ep]--
	return nil
}

func (f *fakeDevices) rawHolders(ep hardware.Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raws[ep]
}

func (f *fakeDevices) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// client drives a session and collects what it sends.
type client struct {
	t       *testing.T
	session *Session
	version message.SpecVersion
	frames  chan []byte
}

func newClient(t *testing.T, opts Options, devices Devices) *client {
	t.Helper()
	c := &client{t: t, frames: make(chan []byte, 64)}
	c.session = New(opts, devices).NewSession(func(frame []byte) error {
		c.frames <- append([]byte(nil), frame...)
		return nil
	})
	t.Cleanup(c.session.Close)
	return c
}

func (c *client) send(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.session.Handle(context.Background(), []byte(frame)))
}

func (c *client) next() message.Message {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		raws, err := message.Split(frame)
		require.NoError(c.t, err)
		require.Len(c.t, raws, 1)
		table, err := convert.Table(c.version)
		require.NoError(c.t, err)
		msg, err := table.Decode(raws[0])
		require.NoError(c.t, err)
		return msg
	case <-time.After(2 * time.Second):
		c.t.Fatal("no frame from server")
		return nil
	}
}

func (c *client) quiet(d time.Duration) {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		c.t.Fatalf("unexpected frame %s", frame)
	case <-time.After(d):
	}
}

func (c *client) handshake(v message.SpecVersion) {
	c.t.Helper()
	c.version = v
	c.send(fmt.Sprintf(`[{"RequestServerInfo":{"Id":1,"ClientName":"test","MessageVersion":%d}}]`, v))
	info, ok := c.next().(*message.ServerInfo)
	require.True(c.t, ok)
	require.Equal(c.t, v, info.MessageVersion)
}

func requireError(t *testing.T, msg message.Message, id uint32, code message.ErrorCode) {
	t.Helper()
	e, ok := msg.(*message.Error)
	require.True(t, ok, "expected Error, got %T", msg)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, code, e.ErrorCode, e.ErrorMessage)
}

func TestHandshakeRequired(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())

	c.send(`[{"RequestDeviceList":{"Id":1}}]`)
	requireError(t, c.next(), 1, message.ErrorInit)
}

func TestServerInfo(t *testing.T) {
	c := newClient(t, Options{Name: "box", MaxPingTime: time.Minute}, newFakeDevices())
	c.version = message.V3

	c.send(`[{"RequestServerInfo":{"Id":7,"ClientName":"test","MessageVersion":3}}]`)
	info, ok := c.next().(*message.ServerInfo)
	require.True(t, ok)
	assert.Equal(t, uint32(7), info.ID)
	assert.Equal(t, "box", info.ServerName)
	assert.Equal(t, message.V3, info.MessageVersion)
	assert.Equal(t, uint32(60000), info.MaxPingTime)
	assert.Equal(t, message.V3, c.session.Version())

	c.send(`[{"RequestServerInfo":{"Id":8,"ClientName":"test","MessageVersion":3}}]`)
	requireError(t, c.next(), 8, message.ErrorInit)
}

func TestFutureVersionRejected(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())

	c.send(`[{"RequestServerInfo":{"Id":1,"ClientName":"test","MessageVersion":9}}]`)
	requireError(t, c.next(), 1, message.ErrorInit)
}

func TestZeroIDRejected(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())
	c.handshake(message.V4)

	c.send(`[{"RequestDeviceList":{"Id":0}}]`)
	requireError(t, c.next(), message.SystemID, message.ErrorMsg)
}

func TestMalformedFrame(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())

	c.send(`{"Ping":{"Id":1}}`)
	requireError(t, c.next(), message.SystemID, message.ErrorMsg)
}

func TestLegacyTestAndLog(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())
	c.handshake(message.V1)

	c.send(`[{"Test":{"Id":2,"TestString":"hello"}}]`)
	echo, ok := c.next().(*message.Test)
	require.True(t, ok)
	assert.Equal(t, uint32(2), echo.ID)
	assert.Equal(t, "hello", echo.TestString)

	c.send(`[{"RequestLog":{"Id":3,"LogLevel":"Debug"}}]`)
	ok3, ok := c.next().(*message.Ok)
	require.True(t, ok)
	assert.Equal(t, uint32(3), ok3.ID)
}

func TestScalarCmdBecomesSteps(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{}, devices)
	c.handshake(message.V3)

	c.send(`[{"ScalarCmd":{"Id":3,"DeviceIndex":0,"Scalars":[{"Index":1,"Scalar":0.5,"ActuatorType":"Vibrate"}]}}]`)
	reply, ok := c.next().(*message.Ok)
	require.True(t, ok)
	assert.Equal(t, uint32(3), reply.ID)

	devices.mu.Lock()
	defer devices.mu.Unlock()
	require.Len(t, devices.outputs, 1)
	assert.Equal(t, []device.OutputRequest{{FeatureIndex: 1, Type: device.OutputVibrate, Value: 10}}, devices.outputs[0])
}

func TestMultipleMessagesInFrame(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())
	c.handshake(message.V4)

	c.send(`[{"Ping":{"Id":2}},{"StopAllDevices":{"Id":3}}]`)
	first, ok := c.next().(*message.Ok)
	require.True(t, ok)
	second, ok := c.next().(*message.Ok)
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 3}, []uint32{first.ID, second.ID})
}

func TestDeviceList(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())
	c.handshake(message.V4)

	c.send(`[{"RequestDeviceList":{"Id":2}}]`)
	list, ok := c.next().(*v4.DeviceList)
	require.True(t, ok)
	assert.Equal(t, uint32(2), list.ID)
	require.Len(t, list.Devices, 1)
	assert.Equal(t, "Edge", list.Devices[0].DeviceName)
	assert.Len(t, list.Devices[0].DeviceFeatures, 3)
}

func TestNewerMessageRejected(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())
	c.handshake(message.V2)

	c.send(`[{"InputCmd":{"Id":4,"DeviceIndex":0,"FeatureIndex":2,"InputType":"Battery","InputCommand":"Read"}}]`)
	requireError(t, c.next(), 4, message.ErrorMsg)
}

func TestUnknownDevice(t *testing.T) {
	c := newClient(t, Options{}, newFakeDevices())
	c.handshake(message.V4)

	c.send(`[{"StopDeviceCmd":{"Id":5,"DeviceIndex":0}},{"OutputCmd":{"Id":6,"DeviceIndex":9,"FeatureIndex":0,"Command":{"Vibrate":{"Value":3}}}}]`)
	_, ok := c.next().(*message.Ok)
	require.True(t, ok)
	requireError(t, c.next(), 6, message.ErrorDevice)
}

func TestBatteryLevelOnV2(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{}, devices)
	c.handshake(message.V2)

	c.send(`[{"BatteryLevelCmd":{"Id":4,"DeviceIndex":0}}]`)
	reading, ok := c.next().(*v2.BatteryLevelReading)
	require.True(t, ok)
	assert.Equal(t, uint32(4), reading.ID)
	assert.InDelta(t, 0.66, reading.BatteryLevel, 1e-9)

	devices.mu.Lock()
	defer devices.mu.Unlock()
	assert.Equal(t, []inputCall{{0, 2, device.InputBattery, device.InputRead}}, devices.inputs)
}

func TestSubscribedReadingsForwarded(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{}, devices)
	c.handshake(message.V4)

	c.send(`[{"InputCmd":{"Id":5,"DeviceIndex":0,"FeatureIndex":2,"InputType":"Battery","InputCommand":"Subscribe"}}]`)
	_, ok := c.next().(*message.Ok)
	require.True(t, ok)

	devices.hub.Publish(device.Event{Type: device.EventInputReading, Reading: &device.InputReading{DeviceIndex: 0, FeatureIndex: 1, Type: device.InputBattery, Value: 10}})
	devices.hub.Publish(device.Event{Type: device.EventInputReading, Reading: &device.InputReading{DeviceIndex: 0, FeatureIndex: 2, Type: device.InputBattery, Value: 50}})

	reading, ok := c.next().(*v4.InputReading)
	require.True(t, ok)
	assert.Equal(t, message.SystemID, reading.ID)
	assert.Equal(t, uint32(2), reading.FeatureIndex)
	assert.Equal(t, int32(50), reading.Value)

	c.session.Close()
	<-c.session.Done()

	devices.mu.Lock()
	defer devices.mu.Unlock()
	assert.Equal(t, inputCall{0, 2, device.InputBattery, device.InputUnsubscribe}, devices.inputs[len(devices.inputs)-1])
	assert.Equal(t, 1, devices.stops)
}

func TestUnsubscribeWithoutSubscription(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{}, devices)
	c.handshake(message.V4)

	c.send(`[{"InputCmd":{"Id":5,"DeviceIndex":0,"FeatureIndex":2,"InputType":"Battery","InputCommand":"Unsubscribe"}}]`)
	requireError(t, c.next(), 5, message.ErrorDevice)

	devices.mu.Lock()
	defer devices.mu.Unlock()
	assert.Empty(t, devices.inputs)
}

func TestRawSubscriptionHeldOncePerClient(t *testing.T) {
	devices := newFakeDevices()
	a := newClient(t, Options{}, devices)
	a.handshake(message.V4)
	b := newClient(t, Options{}, devices)
	b.handshake(message.V4)

	subscribe := `[{"RawSubscribeCmd":{"Id":%d,"DeviceIndex":0,"Endpoint":"rx"}}]`
	unsubscribe := `[{"RawUnsubscribeCmd":{"Id":%d,"DeviceIndex":0,"Endpoint":"rx"}}]`

	for id := 2; id <= 3; id++ {
		a.send(fmt.Sprintf(subscribe, id))
		_, ok := a.next().(*message.Ok)
		require.True(t, ok)
	}
	assert.Equal(t, 1, devices.rawHolders(hardware.EndpointRx), "a repeated subscribe is not counted twice")

	b.send(fmt.Sprintf(subscribe, 2))
	_, ok := b.next().(*message.Ok)
	require.True(t, ok)
	assert.Equal(t, 2, devices.rawHolders(hardware.EndpointRx))

	a.send(fmt.Sprintf(unsubscribe, 4))
	_, ok = a.next().(*message.Ok)
	require.True(t, ok)
	assert.Equal(t, 1, devices.rawHolders(hardware.EndpointRx), "the other client keeps its hold")

	a.send(fmt.Sprintf(unsubscribe, 5))
	requireError(t, a.next(), 5, message.ErrorDevice)

	b.session.Close()
	<-b.session.Done()
	assert.Zero(t, devices.rawHolders(hardware.EndpointRx))
}

func TestLeaveDevicesRunning(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{LeaveDevicesRunning: true}, devices)
	c.handshake(message.V4)

	c.session.Close()
	assert.Equal(t, 0, devices.stopCount())
}

func TestDeviceAddedReachesV0(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{}, devices)
	c.version = message.V0
	c.send(`[{"RequestServerInfo":{"Id":1,"ClientName":"old"}}]`)
	_, ok := c.next().(*message.ServerInfo)
	require.True(t, ok)

	def, err := devices.Device(0)
	require.NoError(t, err)
	devices.hub.Publish(device.Event{Type: device.EventDeviceAdded, Device: def, Index: 0})

	added := c.next()
	assert.Equal(t, "DeviceAdded", added.MessageName())
	assert.Equal(t, message.SystemID, added.MessageID())

	devices.hub.Publish(device.Event{Type: device.EventDeviceRemoved, Index: 0})
	removed, ok := c.next().(*message.DeviceRemoved)
	require.True(t, ok)
	assert.Equal(t, uint32(0), removed.DeviceIndex)
}

func TestUnrepresentableEventSkipped(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{}, devices)
	c.handshake(message.V2)

	c.session.mu.Lock()
	c.session.inputs[inputKey{0, 2, device.InputBattery}] = 1
	c.session.mu.Unlock()

	err := c.session.forward(device.Event{Type: device.EventInputReading, Reading: &device.InputReading{DeviceIndex: 0, FeatureIndex: 2, Type: device.InputBattery, Value: 50}})
	require.NoError(t, err)
	c.quiet(50 * time.Millisecond)
}

func TestPingTimeout(t *testing.T) {
	devices := newFakeDevices()
	c := newClient(t, Options{MaxPingTime: 50 * time.Millisecond}, devices)
	c.handshake(message.V4)

	requireError(t, c.next(), message.SystemID, message.ErrorPing)
	select {
	case <-c.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still open after ping timeout")
	}
	assert.GreaterOrEqual(t, devices.stopCount(), 1)
	assert.ErrorIs(t, c.session.Handle(context.Background(), []byte(`[{"Ping":{"Id":2}}]`)), ErrClosed)
}

func TestPingKeepsSessionAlive(t *testing.T) {
	c := newClient(t, Options{MaxPingTime: 150 * time.Millisecond}, newFakeDevices())
	c.handshake(message.V4)

	for i := range 6 {
		time.Sleep(50 * time.Millisecond)
		c.send(fmt.Sprintf(`[{"Ping":{"Id":%d}}]`, i+2))
		_, ok := c.next().(*message.Ok)
		require.True(t, ok)
	}
	select {
	case <-c.session.Done():
		t.Fatal("session closed while pinging")
	default:
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want message.ErrorCode
	}{
		{fmt.Errorf("x: %w", ErrHandshake), message.ErrorInit},
		{ErrPingTimeout, message.ErrorPing},
		{message.Unconvertible(&message.Ok{}, message.V4, message.V1, "none"), message.ErrorMsg},
		{fmt.Errorf("%w: Foo", message.ErrUnknownMessage), message.ErrorMsg},
		{ErrReservedID, message.ErrorMsg},
		{fmt.Errorf("%w: 3", device.ErrNotFound), message.ErrorDevice},
		{device.ErrStepRange, message.ErrorDevice},
		{hardware.ErrDisconnected, message.ErrorDevice},
		{&protocol.Error{}, message.ErrorDevice},
		{errors.New("boom"), message.ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}
