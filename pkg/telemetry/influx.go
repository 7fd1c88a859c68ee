package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/config"
	"github.com/urmzd/plugd/pkg/device"
)

const influxPingTimeout = 5 * time.Second

// Measurement holds one point per sensor reading.
const Measurement = "device_input"

// PointWriter is the part of the influx write API the sink uses.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxSink writes sensor readings as device_input points tagged with
// the device, feature and input type.
type InfluxSink struct {
	writer PointWriter
	names  map[uint32]string
	close  func()
}

// NewInfluxSink connects to the configured server.
func NewInfluxSink(cfg config.InfluxDBConfig) (*InfluxSink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	ctx, cancel := context.WithTimeout(context.Background(), influxPingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()
	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB telemetry connected")

	s := newInfluxSink(writeAPI)
	s.close = client.Close
	return s, nil
}

func newInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w, names: make(map[uint32]string)}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// Handle records device names and writes readings. Relay delivers events
// from one goroutine, so names needs no lock.
func (s *InfluxSink) Handle(ev device.Event) error {
	switch ev.Type {
	case device.EventDeviceAdded:
		if ev.Device != nil {
			s.names[ev.Index] = ev.Device.Name
		}
	case device.EventDeviceRemoved:
		delete(s.names, ev.Index)
	case device.EventInputReading:
		if ev.Reading == nil {
			return nil
		}
		r := ev.Reading
		tags := map[string]string{
			"device_index": strconv.FormatUint(uint64(r.DeviceIndex), 10),
			"feature":      strconv.FormatUint(uint64(r.FeatureIndex), 10),
			"type":         string(r.Type),
		}
		if name, ok := s.names[r.DeviceIndex]; ok {
			tags["device"] = name
		}
		s.writer.WritePoint(write.NewPoint(Measurement, tags, map[string]any{"value": r.Value}, time.Now()))
	}
	return nil
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() error {
	s.writer.Flush()
	if s.close != nil {
		s.close()
	}
	return nil
}
