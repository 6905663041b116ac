// Package notify delivers rendered alerts to chat transports. Each sender
// routes a message to the channel or thread configured for its topic and
// falls back to a default destination.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers text to the destination configured for topic.
	Send(ctx context.Context, topic domain.Topic, text string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Send iterates over all senders. Errors from individual senders are
// collected and returned as a combined error; a single sender failure does
// not prevent delivery to the remaining senders.
func (n *Notifier) Send(ctx context.Context, topic domain.Topic, text string) error {
	if len(n.senders) == 0 {
		n.logger.DebugContext(ctx, "no senders configured, dropping message",
			slog.String("topic", string(topic)),
		)
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, topic, text); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("topic", string(topic)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("topic", string(topic)),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
