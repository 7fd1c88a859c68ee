package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/hardware/hardwaretest"
)

func TestSubscriptionTracker_Refcount(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	hw := dev.Hardware()
	var tr SubscriptionTracker
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Acquire(ctx, hw, hardware.EndpointRx))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, dev.SubscribeCount(hardware.EndpointRx))
	assert.Equal(t, n, tr.Count(hardware.EndpointRx))

	for i := 0; i < n; i++ {
		require.NoError(t, tr.Release(ctx, hw, hardware.EndpointRx))
	}
	assert.Equal(t, 1, dev.UnsubscribeCount(hardware.EndpointRx))
	assert.ErrorIs(t, tr.Release(ctx, hw, hardware.EndpointRx), ErrNotSubscribed)
}

// slowFailingLink takes a while to refuse every subscribe.
type slowFailingLink struct {
	delay time.Duration
	err   error
}

func (l *slowFailingLink) WriteValue(context.Context, hardware.WriteCmd) error { return nil }

func (l *slowFailingLink) ReadValue(context.Context, hardware.ReadCmd) ([]byte, error) {
	return nil, hardware.ErrTimeout
}

func (l *slowFailingLink) Unsubscribe(context.Context, hardware.Endpoint) error { return nil }

func (l *slowFailingLink) Disconnect() error { return nil }

func (l *slowFailingLink) Subscribe(ctx context.Context, _ hardware.Endpoint) error {
	select {
	case <-time.After(l.delay):
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSubscriptionTracker_SharesFailedSubscribe(t *testing.T) {
	link := &slowFailingLink{delay: 50 * time.Millisecond, err: errors.New("gatt error")}
	hw := hardware.New("Test", "aa:bb", []hardware.Endpoint{hardware.EndpointRx}, link)
	var tr SubscriptionTracker
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tr.Acquire(ctx, hw, hardware.EndpointRx)
		}()
		// let the first caller start the subscribe
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for _, err := range errs {
		assert.EqualError(t, err, "gatt error")
	}
	assert.Zero(t, tr.Count(hardware.EndpointRx))
	assert.ErrorIs(t, tr.Release(ctx, hw, hardware.EndpointRx), ErrNotSubscribed)
}

func TestSubscriptionTracker_Hold(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	hw := dev.Hardware()
	var tr SubscriptionTracker
	tr.Hold(hardware.EndpointRx)

	require.NoError(t, tr.Acquire(context.Background(), hw, hardware.EndpointRx))
	assert.Equal(t, 2, tr.Count(hardware.EndpointRx))
	assert.Zero(t, dev.SubscribeCount(hardware.EndpointRx), "held subscriptions are not repeated")

	require.NoError(t, tr.Release(context.Background(), hw, hardware.EndpointRx))
	require.NoError(t, tr.Release(context.Background(), hw, hardware.EndpointRx))
	assert.Equal(t, 1, dev.UnsubscribeCount(hardware.EndpointRx))
}

func TestBase_UnsupportedOutputs(t *testing.T) {
	b := &Base{Protocol: "test"}
	_, err := b.OutputVibrate(0, uuid.Nil, 1)
	assert.ErrorIs(t, err, device.ErrUnsupported)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "test", perr.Protocol)

	_, err = Dispatch(b, 0, uuid.Nil, OutputValue{Type: device.OutputLed})
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestBase_BatteryRead(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	dev.QueueRead(hardware.EndpointRxBLEBattery, []byte{87})
	b := &Base{Protocol: "test"}

	r, err := b.InputRead(context.Background(), dev.Hardware(), 2, uuid.Nil, device.InputBattery)
	require.NoError(t, err)
	assert.Equal(t, int32(87), r.Value)
	assert.Equal(t, uint32(2), r.FeatureIndex)

	_, err = b.InputRead(context.Background(), dev.Hardware(), 2, uuid.Nil, device.InputPressure)
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestBase_RequestedReadReleasesSubscription(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	b := &Base{
		Protocol: "test",
		Inputs: map[device.InputType]InputBinding{
			device.InputBattery: {
				Endpoint: hardware.EndpointRx,
				Request:  hardware.Writes(hardware.EndpointTx, []byte("Battery;"), false),
				Decode: func(data []byte) (int32, bool) {
					if len(data) != 2 || data[1] != ';' {
						return 0, false
					}
					return int32(data[0]), true
				},
			},
		},
	}

	// First reply is garbled, the retry gets a good one.
	var mu sync.Mutex
	replies := [][]byte{[]byte("??"), {42, ';'}}
	dev.OnWrite(func(hardware.WriteCmd) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return
		}
		reply := replies[0]
		replies = replies[1:]
		go dev.Notify(hardware.EndpointRx, reply)
	})

	r, err := b.InputRead(context.Background(), dev.Hardware(), 0, uuid.Nil, device.InputBattery)
	require.NoError(t, err)
	assert.Equal(t, int32(42), r.Value)
	assert.Len(t, dev.Writes(), 2)
	assert.Equal(t, 1, dev.SubscribeCount(hardware.EndpointRx))
	assert.Equal(t, 1, dev.UnsubscribeCount(hardware.EndpointRx))
}

func TestBase_RequestedReadTimesOut(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	b := &Base{
		Protocol: "test",
		Inputs: map[device.InputType]InputBinding{
			device.InputBattery: {
				Endpoint: hardware.EndpointRx,
				Request:  hardware.Writes(hardware.EndpointTx, []byte{0x01}, false),
				Decode:   BatteryLevel,
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.InputRead(ctx, dev.Hardware(), 0, uuid.Nil, device.InputBattery)
	require.Error(t, err)
	assert.Equal(t, 1, dev.UnsubscribeCount(hardware.EndpointRx))
}

func TestBase_RequestedReadFailsOnDisconnect(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	dev.OnWrite(func(hardware.WriteCmd) { go dev.Drop() })
	b := &Base{
		Protocol: "test",
		Inputs: map[device.InputType]InputBinding{
			device.InputBattery: {
				Endpoint: hardware.EndpointRx,
				Request:  hardware.Writes(hardware.EndpointTx, []byte{0x01}, false),
				Decode:   BatteryLevel,
			},
		},
	}

	_, err := b.InputRead(context.Background(), dev.Hardware(), 0, uuid.Nil, device.InputBattery)
	assert.ErrorIs(t, err, hardware.ErrDisconnected)
}

func TestBase_SubscribeStreamsReadings(t *testing.T) {
	dev := hardwaretest.NewDevice("Test", "aa:bb")
	hw := dev.Hardware()
	b := &Base{Protocol: "test"}
	readings := b.Readings().Subscribe()
	ctx := context.Background()

	require.NoError(t, b.InputSubscribe(ctx, hw, 1, uuid.Nil, device.InputBattery))
	require.NoError(t, b.InputSubscribe(ctx, hw, 1, uuid.Nil, device.InputBattery))
	assert.Equal(t, 1, dev.SubscribeCount(hardware.EndpointRxBLEBattery))

	dev.Notify(hardware.EndpointRxBLEBattery, []byte{55})
	select {
	case r := <-readings:
		assert.Equal(t, int32(55), r.Value)
		assert.Equal(t, uint32(1), r.FeatureIndex)
		assert.Equal(t, device.InputBattery, r.Type)
	case <-time.After(time.Second):
		t.Fatal("no reading")
	}

	require.NoError(t, b.InputUnsubscribe(ctx, hw, 1, uuid.Nil, device.InputBattery))
	assert.Equal(t, 0, dev.UnsubscribeCount(hardware.EndpointRxBLEBattery))
	require.NoError(t, b.InputUnsubscribe(ctx, hw, 1, uuid.Nil, device.InputBattery))
	assert.Equal(t, 1, dev.UnsubscribeCount(hardware.EndpointRxBLEBattery))

	assert.ErrorIs(t, b.InputUnsubscribe(ctx, hw, 1, uuid.Nil, device.InputBattery), ErrNotSubscribed)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	initFn := InitializerFunc(func(context.Context, *hardware.Hardware, *device.DeviceDefinition) (Handler, error) {
		return &Base{Protocol: "a"}, nil
	})
	require.NoError(t, r.Register(Simple("b", initFn)))
	require.NoError(t, r.Register(Simple("a", initFn)))
	assert.Error(t, r.Register(Simple("a", initFn)))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	f, ok := r.Get("a")
	require.True(t, ok)
	dev := hardwaretest.NewDevice("A", "11:22")
	id, ini, err := f.NewIdentifier().Identify(context.Background(), dev.Hardware())
	require.NoError(t, err)
	assert.Equal(t, device.UserDeviceIdentifier{Address: "11:22", Protocol: "a"}, id)

	h, err := ini.Initialize(context.Background(), dev.Hardware(), &device.DeviceDefinition{})
	require.NoError(t, err)
	assert.False(t, h.NeedsFullCommandSet())
}
