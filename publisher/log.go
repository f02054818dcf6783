package publisher

import (
	"context"

	accounts "github.com/goliatone/go-accounts"
)

// LogPublisher writes events to a logger. Tokens are redacted.
type LogPublisher struct {
	logger accounts.Logger
}

// NewLogPublisher returns a publisher logging through logger.
func NewLogPublisher(logger accounts.Logger) *LogPublisher {
	return &LogPublisher{logger: accounts.ResolveLogger("accounts.events.log", nil, logger)}
}

// Publish implements accounts.EventPublisher.
func (p *LogPublisher) Publish(ctx context.Context, topic string, event accounts.Event) error {
	evt := event.Redacted()
	p.logger.WithContext(ctx).Info("account event",
		"topic", topic,
		"event_id", evt.ID,
		"kind", evt.Kind,
		"user_id", evt.UserID,
		"email", evt.Email,
		"token", evt.Token,
	)
	return nil
}
