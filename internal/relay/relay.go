// Package relay forwards countdown lifecycle events to external sinks so that
// displays which do not poll the HTTP API (signage players, home automation)
// can react to an unseal.
//
// Sinks are best effort. A failed publish is logged and dropped; the
// countdown never waits on a sink.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"unsealer/internal/countdown"
	"unsealer/internal/eventbus"
	logx "unsealer/pkg/logx"
)

const (
	DefaultClientID     = "unsealer"
	DefaultTopic        = "unsealer/events"
	DefaultChannel      = "unsealer:events"
	DefaultTimeout      = 3 * time.Second
	defaultWarnInterval = 30 * time.Second
)

// Config selects the sinks to open. A nil section disables that sink.
type Config struct {
	MQTT    *MQTTConfig
	Redis   *RedisConfig
	Timeout time.Duration // per publish; 0 means DefaultTimeout
}

// Sink publishes one encoded message.
type Sink interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Message is the wire form of a relayed event. ID is assigned on send and
// is the same for every sink, so consumers reading several sinks can dedupe.
type Message struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	At       time.Time `json:"at"`
	Target   time.Time `json:"target,omitzero"`
	Previous time.Time `json:"previous,omitzero"`
	Schedule string    `json:"schedule,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Late     bool      `json:"late,omitempty"`
}

// Resumed is local to the viewer and is not relayed.
var relayed = map[eventbus.Type]bool{
	eventbus.Unsealed:       true,
	eventbus.Rollover:       true,
	eventbus.ConfigInvalid:  true,
	eventbus.ConfigRestored: true,
}

// MessageFor converts a bus event. ok is false for events that are not relayed.
func MessageFor(e eventbus.Event) (Message, bool) {
	if !relayed[e.Type] {
		return Message{}, false
	}
	m := Message{Type: string(e.Type), At: e.Time.UTC()}
	if tr, ok := e.Data.(countdown.Transition); ok {
		m.Target = tr.Target
		m.Previous = tr.Previous
		m.Schedule = tr.Schedule
		m.Reason = tr.Reason
		m.Late = tr.Late
	}
	return m, true
}

type Relay struct {
	sinks   []Sink
	timeout time.Duration
	log     logx.Logger
	warn    map[string]*logx.Throttle
}

// New wraps already opened sinks. It is mostly useful in tests; Open builds
// the sinks from a Config.
func New(sinks []Sink, timeout time.Duration, log logx.Logger) *Relay {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log = log.With(logx.String("comp", "relay"))
	warn := make(map[string]*logx.Throttle, len(sinks))
	for _, s := range sinks {
		warn[s.Name()] = logx.NewThrottle(log.With(logx.String("sink", s.Name())), defaultWarnInterval)
	}
	return &Relay{sinks: sinks, timeout: timeout, log: log, warn: warn}
}

// Open creates the configured sinks. The MQTT client connects in the
// background and keeps retrying; Redis connects lazily on first publish.
func Open(cfg Config, log logx.Logger) (*Relay, error) {
	var sinks []Sink
	if cfg.MQTT != nil {
		s, err := newMQTT(*cfg.MQTT, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Redis != nil {
		sinks = append(sinks, newRedis(*cfg.Redis))
	}
	if len(sinks) == 0 {
		return nil, errors.New("relay: no sinks configured")
	}
	r := New(sinks, cfg.Timeout, log)
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	r.log.Info("relay enabled", logx.Any("sinks", names))
	return r, nil
}

// Run relays events until ctx ends or events is closed.
func (r *Relay) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m, keep := MessageFor(e)
			if !keep {
				continue
			}
			r.Send(ctx, m)
		}
	}
}

// Send publishes m to every sink and returns the number of sinks that
// accepted it.
func (r *Relay) Send(ctx context.Context, m Message) int {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	payload, err := json.Marshal(m)
	if err != nil {
		r.log.Error("relay encode failed", logx.String("type", m.Type), logx.Err(err))
		return 0
	}
	ok := 0
	for _, s := range r.sinks {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Publish(pctx, payload)
		cancel()
		if err != nil {
			r.warn[s.Name()].Warn("relay publish failed", logx.String("type", m.Type), logx.Err(err))
			continue
		}
		ok++
		r.log.Debug("relayed", logx.String("sink", s.Name()), logx.String("type", m.Type))
	}
	return ok
}

func (r *Relay) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
