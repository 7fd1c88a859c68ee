// Package telemetry forwards device manager events to external sinks.
package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/device"
)

var (
	// ErrDisabled is returned when a sink is built from a disabled config.
	ErrDisabled = errors.New("telemetry sink disabled")

	// ErrConnectionFailed indicates the sink backend could not be reached.
	ErrConnectionFailed = errors.New("telemetry connection failed")
)

// Sink consumes device events.
type Sink interface {
	Name() string
	Handle(ev device.Event) error
	Close() error
}

// Relay feeds manager events to every sink.
type Relay struct {
	events device.EventSubscriber
	sinks  []Sink
}

// NewRelay creates a relay over events.
func NewRelay(events device.EventSubscriber, sinks ...Sink) *Relay {
	return &Relay{events: events, sinks: sinks}
}

// Run delivers events until ctx is done or the event stream closes, then
// closes every sink. Sink errors are logged and do not stop delivery.
func (r *Relay) Run(ctx context.Context) error {
	ch := r.events.Subscribe()
	defer func() {
		r.events.Unsubscribe(ch)
		for _, s := range r.sinks {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Str("sink", s.Name()).Msg("Telemetry sink close failed")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			for _, s := range r.sinks {
				if err := s.Handle(ev); err != nil {
					log.Warn().Err(err).Str("sink", s.Name()).Str("event", ev.Type).Msg("Telemetry sink failed")
				}
			}
		}
	}
}
