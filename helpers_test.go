package accounts_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/adapters/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []accounts.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event accounts.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []accounts.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]accounts.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) Kinds() []accounts.EventKind {
	events := p.Events()
	kinds := make([]accounts.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (p *recordingPublisher) Last(t *testing.T) accounts.Event {
	t.Helper()
	events := p.Events()
	require.NotEmpty(t, events, "expected at least one published event")
	return events[len(events)-1]
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = nil
	p.events = nil
}

type serviceFixture struct {
	svc       *accounts.Service
	store     *memory.Store
	tokens    *accounts.TokenService
	publisher *recordingPublisher
	clock     *fakeClock
}

func newServiceFixture(t *testing.T, opts ...accounts.ServiceOption) *serviceFixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	tokens := newTestTokenService(t, clock)
	publisher := &recordingPublisher{}

	base := []accounts.ServiceOption{
		accounts.WithEventPublisher(publisher),
		accounts.WithClock(clock.Now),
	}
	svc, err := accounts.NewService(store, newTestHasher(t), tokens, append(base, opts...)...)
	require.NoError(t, err)

	return &serviceFixture{
		svc:       svc,
		store:     store,
		tokens:    tokens,
		publisher: publisher,
		clock:     clock,
	}
}

func newAccountInput(email string) accounts.NewAccount {
	return accounts.NewAccount{
		Email:           email,
		Password:        "correct horse",
		ConfirmPassword: "correct horse",
		FirstName:       "Ada",
		LastName:        "Lovelace",
	}
}

// registerActive registers and activates a USER account.
func (f *serviceFixture) registerActive(t *testing.T, email string) *accounts.Account {
	t.Helper()
	resp, err := f.svc.Register(context.Background(), newAccountInput(email))
	require.NoError(t, err)
	account, err := f.svc.Activate(context.Background(), resp.Account.ID)
	require.NoError(t, err)
	return account
}

// seedAdmin stores an ACTIVE ADMIN directly, bypassing CreateAdmin.
func (f *serviceFixture) seedAdmin(t *testing.T, email string) accounts.Actor {
	t.Helper()
	account := f.registerActive(t, email)
	current, err := f.store.Accounts().GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	next := current.Clone()
	next.Role = accounts.RoleAdmin
	_, err = f.store.Accounts().Update(context.Background(), next, current.Version)
	require.NoError(t, err)
	return accounts.Actor{ID: account.ID, Role: accounts.RoleAdmin}
}

func actorFor(account *accounts.Account) accounts.Actor {
	return accounts.Actor{ID: account.ID, Role: account.Role}
}

func strPtr(s string) *string { return &s }

var unknownID = uuid.MustParse("00000000-0000-4000-8000-000000000001")
