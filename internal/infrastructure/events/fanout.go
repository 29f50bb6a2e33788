package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

// Fanout delivers every event to each publisher in order. A failing
// publisher does not stop the others; all failures are joined.
type Fanout struct {
	publishers []namedPublisher
}

type namedPublisher struct {
	name string
	pub  negotiation.Publisher
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a publisher under name. Nil publishers are ignored.
func (f *Fanout) Add(name string, pub negotiation.Publisher) *Fanout {
	if pub != nil {
		f.publishers = append(f.publishers, namedPublisher{name: name, pub: pub})
	}
	return f
}

func (f *Fanout) Len() int { return len(f.publishers) }

func (f *Fanout) Publish(ctx context.Context, event negotiation.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.pub.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, event negotiation.Event) error {
	p.logger.Info().
		Str("event_id", event.EventID.String()).
		Str("event", string(event.Type)).
		Str("negotiation_id", event.NegotiationID.String()).
		Str("property_id", event.PropertyID).
		Str("actor", event.Actor).
		Str("recipient", event.Recipient()).
		Int64("amount", event.Amount).
		Str("status", string(event.Status)).
		Msg("negotiation event")
	return nil
}
