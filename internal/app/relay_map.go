package app

import (
	"unsealer/internal/config"
	"unsealer/internal/relay"
)

// mapRelayConfig converts the relay section. enabled is false when no sink
// is configured.
func mapRelayConfig(cfg *config.Config) (relay.Config, bool) {
	if cfg == nil || !cfg.Relay.Enabled() {
		return relay.Config{}, false
	}
	var rc relay.Config
	if m := cfg.Relay.MQTT; m != nil {
		rc.MQTT = &relay.MQTTConfig{
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Topic:    m.Topic,
			QoS:      byte(m.QoS),
			Retain:   m.Retain,
			Username: m.Username,
			Password: m.Password,
		}
	}
	if r := cfg.Relay.Redis; r != nil {
		rc.Redis = &relay.RedisConfig{
			Addr:     r.Addr,
			Username: r.Username,
			Password: r.Password,
			DB:       r.DB,
			Channel:  r.Channel,
		}
	}
	return rc, true
}
