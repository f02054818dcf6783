package accounts

import (
	"context"
	"time"
)

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*AccountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineLogger overrides the logger used by the state machine.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// AccountStateMachine validates status changes and persists them through the store.
type AccountStateMachine struct {
	store       AccountStore
	transitions map[AccountStatus]map[AccountStatus]struct{}
	now         func() time.Time
	logger      Logger
}

// NewAccountStateMachine returns the default implementation backed by the provided store.
func NewAccountStateMachine(store AccountStore, opts ...StateMachineOption) *AccountStateMachine {
	sm := &AccountStateMachine{
		store: store,
		transitions: map[AccountStatus]map[AccountStatus]struct{}{
			StatusPending: {
				StatusActive: {},
			},
			StatusActive: {
				StatusDeactivated:       {},
				StatusDeletionRequested: {},
			},
			StatusDeactivated: {
				StatusActive:            {},
				StatusDeletionRequested: {},
			},
		},
		now:    time.Now,
		logger: ResolveLogger("accounts.state_machine", nil, nil),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func (sm *AccountStateMachine) CanTransition(from, to AccountStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Transition moves account to target. It returns the stored account and
// whether anything changed; moving to the current status is a no-op.
func (sm *AccountStateMachine) Transition(ctx context.Context, account *Account, target AccountStatus) (*Account, bool, error) {
	if account == nil {
		return nil, false, ErrNotFound
	}
	if !target.IsValid() {
		return nil, false, ErrInvalidTransition
	}

	from := account.Status
	if from == target {
		return account, false, nil
	}

	if from.IsHeld() {
		return nil, false, ErrDeletionPending
	}

	if !sm.CanTransition(from, target) {
		sm.logger.Debug("rejected account transition", "user_id", account.ID, "from", from, "to", target)
		return nil, false, ErrInvalidTransition
	}

	now := sm.now()
	next := account.Clone()
	next.Status = target
	next.UpdatedAt = now
	if target == StatusDeletionRequested {
		next.DeletionRequestedAt = &now
	}

	stored, err := sm.store.Update(ctx, next, account.Version)
	if err != nil {
		return nil, false, err
	}

	sm.logger.Info("account transitioned", "user_id", account.ID, "from", from, "to", target)
	return stored, true, nil
}
