// Package bus fans domain events out to every configured sink.
package bus

import (
	"context"
	"errors"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Fanout publishes each event to all sinks and joins their errors.
type Fanout struct {
	sinks []domain.EventPublisher
}

// NewFanout returns a Fanout over the non-nil sinks.
func NewFanout(sinks ...domain.EventPublisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish implements domain.EventPublisher.
func (f *Fanout) Publish(ctx context.Context, topic, key string, payload []byte) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, topic, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.EventPublisher = (*Fanout)(nil)
