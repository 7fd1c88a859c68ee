package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/broadcast"
	"github.com/urmzd/plugd/pkg/config"
	"github.com/urmzd/plugd/pkg/device"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	var body string
	switch v := payload.(type) {
	case []byte:
		body = string(v)
	case string:
		body = v
	}
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: body})
	return doneToken{err: p.err}
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeWriter struct {
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) { w.points = append(w.points, p) }
func (w *fakeWriter) Flush()                    { w.flushes++ }

var (
	added   = device.Event{Type: device.EventDeviceAdded, Index: 3, Device: &device.DeviceDefinition{Index: 3, Name: "Edge"}}
	reading = device.Event{Type: device.EventInputReading, Index: 3, Reading: &device.InputReading{
		DeviceIndex: 3, FeatureIndex: 2, Type: device.InputBattery, Value: 71,
	}}
	removed = device.Event{Type: device.EventDeviceRemoved, Index: 3}
)

func TestMQTTSinkTopics(t *testing.T) {
	pub := &fakePublisher{}
	s := newMQTTSink(pub, "plugd", 1)

	for _, ev := range []device.Event{added, reading, removed, {Type: device.EventScanningFinished}} {
		require.NoError(t, s.Handle(ev))
	}
	require.NoError(t, s.Close())

	msgs := pub.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "plugd/devices/3/added", msgs[0].topic)
	assert.Contains(t, msgs[0].payload, `"name":"Edge"`)
	assert.Equal(t, "plugd/devices/3/input/2", msgs[1].topic)
	assert.JSONEq(t, `{"device_index":3,"feature_index":2,"type":"Battery","value":71}`, msgs[1].payload)
	assert.Equal(t, "plugd/devices/3/removed", msgs[2].topic)
	assert.Empty(t, msgs[2].payload)
	assert.Equal(t, "plugd/status", msgs[3].topic)
	assert.True(t, msgs[3].retained)
	assert.Contains(t, msgs[3].payload, `"status":"offline"`)
}

func TestMQTTSinkPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	assert.Error(t, newMQTTSink(pub, "plugd", 0).Handle(added))
}

func TestInfluxSinkPoints(t *testing.T) {
	w := &fakeWriter{}
	s := newInfluxSink(w)

	for _, ev := range []device.Event{added, reading, removed, reading} {
		require.NoError(t, s.Handle(ev))
	}
	require.NoError(t, s.Close())

	require.Len(t, w.points, 2)
	first := write.PointToLineProtocol(w.points[0], time.Second)
	assert.True(t, strings.HasPrefix(first, Measurement+","), first)
	assert.Contains(t, first, "device=Edge")
	assert.Contains(t, first, "device_index=3")
	assert.Contains(t, first, "feature=2")
	assert.Contains(t, first, "type=Battery")
	assert.Contains(t, first, "value=71i")
	assert.NotContains(t, write.PointToLineProtocol(w.points[1], time.Second), "device=Edge", "name dropped on removal")
	assert.Equal(t, 1, w.flushes)
}

func TestSinksDisabled(t *testing.T) {
	_, err := NewMQTTSink(config.MQTTConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = NewInfluxSink(config.InfluxDBConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

type hubSubscriber struct{ hub *broadcast.Hub[device.Event] }

func (h hubSubscriber) Subscribe() <-chan device.Event     { return h.hub.Subscribe() }
func (h hubSubscriber) Unsubscribe(ch <-chan device.Event) { h.hub.Unsubscribe(ch) }

func TestRelayDeliversAndCloses(t *testing.T) {
	hub := broadcast.New[device.Event]("test", 8)
	pub := &fakePublisher{}
	w := &fakeWriter{}
	relay := NewRelay(hubSubscriber{hub}, newMQTTSink(pub, "plugd", 0), newInfluxSink(w))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(added)
	hub.Publish(reading)
	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 1, w.flushes)
	assert.Len(t, w.points, 1)
}
