package tariff

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/awaistahir/tou-shift/internal/bus"
	"github.com/awaistahir/tou-shift/internal/engine"
)

// Subscriber is the part of the bus connection the tariff listener needs
type Subscriber interface {
	Subscribe(topic string, h bus.Handler) error
}

// MQTTSource keeps the latest tariff published on the bus
type MQTTSource struct {
	wait time.Duration
	log  zerolog.Logger

	mu       sync.Mutex
	latest   engine.TouSpec
	received time.Time
	ready    chan struct{}
	once     sync.Once
	onUpdate func(engine.TouSpec)
}

// NewMQTTSource creates a source that waits up to wait for a first tariff
func NewMQTTSource(wait time.Duration, log zerolog.Logger) *MQTTSource {
	return &MQTTSource{wait: wait, log: log, ready: make(chan struct{})}
}

// OnUpdate registers fn to run for every accepted tariff
func (s *MQTTSource) OnUpdate(fn func(engine.TouSpec)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Listen subscribes the source to topic
func (s *MQTTSource) Listen(sub Subscriber, topic string) error {
	return sub.Subscribe(topic, s.Handle)
}

// Handle parses one tariff message. Payloads that do not parse are dropped.
func (s *MQTTSource) Handle(topic string, payload []byte) {
	spec, err := Parse(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("dropping tariff payload")
		return
	}

	s.mu.Lock()
	s.latest = spec
	s.received = time.Now()
	fn := s.onUpdate
	s.mu.Unlock()

	s.once.Do(func() { close(s.ready) })
	s.log.Info().Str("topic", topic).Msg("tariff updated")
	if fn != nil {
		fn(spec)
	}
}

// Fetch returns the latest tariff, waiting for the first one if needed
func (s *MQTTSource) Fetch(ctx context.Context) (engine.TouSpec, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-timer.C:
		return engine.TouSpec{}, ErrNoTariff
	case <-ctx.Done():
		return engine.TouSpec{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

// Received returns when the latest tariff arrived; zero if none has
func (s *MQTTSource) Received() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}
