package publisher

import (
	"context"
	"errors"

	accounts "github.com/goliatone/go-accounts"
)

// Fanout publishes every event to each publisher in order. All publishers
// are tried; their errors are joined.
type Fanout []accounts.EventPublisher

// Publish implements accounts.EventPublisher.
func (f Fanout) Publish(ctx context.Context, topic string, event accounts.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
