package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultEventTopic is the broker topic account events are published to.
const DefaultEventTopic = "user-topics"

// DefaultPublishTimeout bounds a single publish call.
const DefaultPublishTimeout = 3 * time.Second

// EventKind discriminates Event payloads.
type EventKind string

const (
	EventUserRegistered           EventKind = "UserRegistered"
	EventAccountActivated         EventKind = "AccountActivated"
	EventUserLoggedIn             EventKind = "UserLoggedIn"
	EventAccountDeactivated       EventKind = "AccountDeactivated"
	EventAccountReactivated       EventKind = "AccountReactivated"
	EventUserDeleted              EventKind = "UserDeleted"
	EventAccountDeletionRequested EventKind = "AccountDeletionRequested"
	EventAdminCreated             EventKind = "AdminCreated"
	EventUserRoleUpdated          EventKind = "UserRoleUpdated"
	EventProfileUpdated           EventKind = "ProfileUpdated"
	EventPasswordResetRequested   EventKind = "PasswordResetRequested"
	EventPasswordResetCompleted   EventKind = "PasswordResetCompleted"
)

// EventKinds lists every kind the package emits.
func EventKinds() []EventKind {
	return []EventKind{
		EventUserRegistered,
		EventAccountActivated,
		EventUserLoggedIn,
		EventAccountDeactivated,
		EventAccountReactivated,
		EventUserDeleted,
		EventAccountDeletionRequested,
		EventAdminCreated,
		EventUserRoleUpdated,
		EventProfileUpdated,
		EventPasswordResetRequested,
		EventPasswordResetCompleted,
	}
}

// IsValid reports whether k is a known kind
func (k EventKind) IsValid() bool {
	for _, kind := range EventKinds() {
		if kind == k {
			return true
		}
	}
	return false
}

// Event is the single payload shape for every domain event. Optional fields
// are set depending on Kind.
type Event struct {
	ID             string        `json:"eventId"`
	Kind           EventKind     `json:"eventType"`
	UserID         string        `json:"userId"`
	Email          string        `json:"email"`
	Name           string        `json:"name,omitempty"`
	Role           Role          `json:"role,omitempty"`
	Token          string        `json:"token,omitempty"`
	LoginTimestamp *time.Time    `json:"loginTimestamp,omitempty"`
	FromStatus     AccountStatus `json:"fromStatus,omitempty"`
	ToStatus       AccountStatus `json:"toStatus,omitempty"`
	ActorID        string        `json:"actorId,omitempty"`
	OccurredAt     time.Time     `json:"occurredAt"`
}

// Validate checks the per kind field requirements.
func (e Event) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if _, err := uuid.Parse(e.UserID); err != nil {
		return fmt.Errorf("%w: %s requires a user id", ErrInvalidEvent, e.Kind)
	}
	if e.Email == "" {
		return fmt.Errorf("%w: %s requires an email", ErrInvalidEvent, e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: %s requires an occurrence time", ErrInvalidEvent, e.Kind)
	}

	switch e.Kind {
	case EventPasswordResetRequested:
		if e.Token == "" {
			return fmt.Errorf("%w: %s requires a token", ErrInvalidEvent, e.Kind)
		}
	default:
		if e.Token != "" {
			return fmt.Errorf("%w: %s must not carry a token", ErrInvalidEvent, e.Kind)
		}
	}

	switch e.Kind {
	case EventUserLoggedIn:
		if e.LoginTimestamp == nil {
			return fmt.Errorf("%w: %s requires a login timestamp", ErrInvalidEvent, e.Kind)
		}
	case EventUserRoleUpdated, EventAdminCreated:
		if !e.Role.IsValid() {
			return fmt.Errorf("%w: %s requires a role", ErrInvalidEvent, e.Kind)
		}
	}
	return nil
}

// Redacted returns a copy safe to log.
func (e Event) Redacted() Event {
	if e.Token != "" {
		e.Token = "[redacted]"
	}
	return e
}

// EventPublisher delivers events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// EventPublisherFunc adapts a function to the EventPublisher interface.
type EventPublisherFunc func(ctx context.Context, topic string, event Event) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, topic string, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, topic, event)
}

type noopEventPublisher struct{}

func (noopEventPublisher) Publish(context.Context, string, Event) error {
	return nil
}

func normalizeEventPublisher(p EventPublisher) EventPublisher {
	if p == nil {
		return noopEventPublisher{}
	}
	return p
}

// eventEmitter publishes best effort: each call is bounded by timeout, is
// detached from the caller's cancellation and only logs failures.
type eventEmitter struct {
	publisher EventPublisher
	topic     string
	timeout   time.Duration
	now       func() time.Time
	logger    Logger
}

func newEventEmitter(publisher EventPublisher, topic string, timeout time.Duration, now func() time.Time, logger Logger) *eventEmitter {
	if topic == "" {
		topic = DefaultEventTopic
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &eventEmitter{
		publisher: normalizeEventPublisher(publisher),
		topic:     topic,
		timeout:   timeout,
		now:       now,
		logger:    logger,
	}
}

func (e *eventEmitter) emit(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}

	if err := event.Validate(); err != nil {
		e.logger.Error("dropping invalid event", "kind", event.Kind, "user_id", event.UserID, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.publisher.Publish(pctx, e.topic, event); err != nil {
		e.logger.Warn("event publish failed", "kind", event.Kind, "user_id", event.UserID, "topic", e.topic, "error", err)
		return
	}
	e.logger.Debug("event published", "kind", event.Kind, "user_id", event.UserID, "topic", e.topic)
}

func accountEvent(kind EventKind, account *Account, profile *Profile) Event {
	evt := Event{Kind: kind}
	if account != nil {
		evt.UserID = account.ID.String()
		evt.Email = account.Email
		evt.Role = account.Role
	}
	if profile != nil {
		evt.Name = profile.DisplayName()
	}
	return evt
}
