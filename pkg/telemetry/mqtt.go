package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/config"
	"github.com/urmzd/plugd/pkg/device"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttKeepAlive      = 30 * time.Second
)

// Publisher is the part of the paho client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
}

// MQTTSink publishes device lifecycle and sensor readings:
//
//	{prefix}/status                          online/offline, retained
//	{prefix}/devices/{index}/added           device definition
//	{prefix}/devices/{index}/removed         empty
//	{prefix}/devices/{index}/input/{feature} input reading
type MQTTSink struct {
	client Publisher
	prefix string
	qos    byte
	close  func()
}

// NewMQTTSink connects to the configured broker.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetWill(statusTopic(cfg.TopicPrefix), statusPayload("offline"), cfg.QoS, true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: mqtt timeout after %v", ErrConnectionFailed, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: mqtt: %w", ErrConnectionFailed, err)
	}
	log.Info().Str("broker", cfg.Broker).Msg("MQTT telemetry connected")

	s := newMQTTSink(client, cfg.TopicPrefix, cfg.QoS)
	s.close = func() { client.Disconnect(250) }
	client.Publish(statusTopic(cfg.TopicPrefix), cfg.QoS, true, statusPayload("online"))
	return s, nil
}

func newMQTTSink(client Publisher, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Handle publishes ev. Events without a topic are ignored.
func (s *MQTTSink) Handle(ev device.Event) error {
	var (
		topic   string
		payload any
	)
	switch ev.Type {
	case device.EventDeviceAdded:
		topic = fmt.Sprintf("%s/devices/%d/added", s.prefix, ev.Index)
		payload = ev.Device
	case device.EventDeviceRemoved:
		topic = fmt.Sprintf("%s/devices/%d/removed", s.prefix, ev.Index)
	case device.EventInputReading:
		if ev.Reading == nil {
			return nil
		}
		topic = fmt.Sprintf("%s/devices/%d/input/%d", s.prefix, ev.Reading.DeviceIndex, ev.Reading.FeatureIndex)
		payload = ev.Reading
	default:
		return nil
	}

	body := []byte{}
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s: %w", ev.Type, err)
		}
	}
	token := s.client.Publish(topic, s.qos, false, body)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

// Close publishes the offline status and disconnects.
func (s *MQTTSink) Close() error {
	token := s.client.Publish(statusTopic(s.prefix), s.qos, true, statusPayload("offline"))
	token.WaitTimeout(mqttPublishTimeout)
	if s.close != nil {
		s.close()
	}
	return nil
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

func statusPayload(status string) string {
	return fmt.Sprintf(`{"status":%q,"timestamp":%q}`, status, time.Now().UTC().Format(time.RFC3339))
}
