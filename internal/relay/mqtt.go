package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	logx "unsealer/pkg/logx"
)

var errNotConnected = errors.New("mqtt: not connected")

type MQTTConfig struct {
	Broker   string // tcp://host:1883, ssl://host:8883, ws://...
	ClientID string
	Topic    string
	QoS      byte
	Retain   bool
	Username string
	Password string
}

type mqttSink struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
}

func mqttOptions(cfg MQTTConfig, log logx.Logger) *mqtt.ClientOptions {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(strings.TrimSpace(cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connected", logx.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", logx.String("broker", cfg.Broker), logx.Err(err))
	}
	return opts
}

func newMQTT(cfg MQTTConfig, log logx.Logger) (*mqttSink, error) {
	log = log.With(logx.String("comp", "relay"), logx.String("sink", "mqtt"))
	opts := mqttOptions(cfg, log)
	if len(opts.Servers) == 0 {
		return nil, fmt.Errorf("relay: invalid mqtt broker %q", cfg.Broker)
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	c := mqtt.NewClient(opts)
	// With ConnectRetry the token completes only once connected, so it is
	// not waited on here.
	c.Connect()
	return &mqttSink{client: c, topic: topic, qos: cfg.QoS, retain: cfg.Retain}, nil
}

func (s *mqttSink) Name() string { return "mqtt" }

func (s *mqttSink) Publish(ctx context.Context, payload []byte) error {
	if !s.client.IsConnectionOpen() {
		return errNotConnected
	}
	tok := s.client.Publish(s.topic, s.qos, s.retain, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *mqttSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
