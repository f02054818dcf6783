package accounts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ServiceOption customizes a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	publisher         EventPublisher
	topic             string
	publishTimeout    time.Duration
	now               func() time.Time
	logger            Logger
	loggerProvider    LoggerProvider
	requireActivation bool
	resetOpts         []ResetTokenStoreOption
}

// WithEventPublisher sets where domain events are sent.
func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(o *serviceOptions) {
		o.publisher = p
	}
}

// WithEventTopic overrides DefaultEventTopic.
func WithEventTopic(topic string) ServiceOption {
	return func(o *serviceOptions) {
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithPublishTimeout bounds every publish call.
func WithPublishTimeout(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets one logger for every component.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithLoggerProvider resolves a named logger per component.
func WithLoggerProvider(provider LoggerProvider) ServiceOption {
	return func(o *serviceOptions) {
		o.loggerProvider = provider
	}
}

// WithRequireActivation controls whether registered accounts start PENDING.
// When false they start ACTIVE and Register returns a bearer token.
func WithRequireActivation(required bool) ServiceOption {
	return func(o *serviceOptions) {
		o.requireActivation = required
	}
}

// WithResetTokenOptions forwards options to the ResetTokenStore.
func WithResetTokenOptions(opts ...ResetTokenStoreOption) ServiceOption {
	return func(o *serviceOptions) {
		o.resetOpts = append(o.resetOpts, opts...)
	}
}

// Service orchestrates the account lifecycle.
type Service struct {
	accounts     AccountStore
	hasher       PasswordHasher
	tokens       TokenSigner
	resets       *ResetTokenStore
	stateMachine *AccountStateMachine
	events       *eventEmitter
	now          func() time.Time
	logger       Logger

	register     *RegisterAccountHandler
	resetRequest *RequestPasswordResetHandler
	resetConfirm *ConfirmPasswordResetHandler

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires the lifecycle to its stores and credential primitives.
func NewService(stores Stores, hasher PasswordHasher, tokens TokenSigner, opts ...ServiceOption) (*Service, error) {
	if stores == nil || stores.Accounts() == nil || stores.ResetTokens() == nil {
		return nil, goerrors.New("account and reset token stores are required", goerrors.CategoryInternal)
	}
	if hasher == nil || tokens == nil {
		return nil, goerrors.New("password hasher and token signer are required", goerrors.CategoryInternal)
	}

	o := serviceOptions{
		topic:             DefaultEventTopic,
		publishTimeout:    DefaultPublishTimeout,
		now:               time.Now,
		requireActivation: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logFor := func(name string) Logger {
		return ResolveLogger(name, o.loggerProvider, o.logger)
	}

	resetOpts := append([]ResetTokenStoreOption{
		WithResetTokenClock(o.now),
		WithResetTokenLogger(logFor("accounts.password_reset")),
	}, o.resetOpts...)

	s := &Service{
		accounts: stores.Accounts(),
		hasher:   hasher,
		tokens:   tokens,
		resets:   NewResetTokenStore(stores, hasher, resetOpts...),
		stateMachine: NewAccountStateMachine(stores.Accounts(),
			WithStateMachineClock(o.now),
			WithStateMachineLogger(logFor("accounts.state_machine")),
		),
		events: newEventEmitter(o.publisher, o.topic, o.publishTimeout, o.now, logFor("accounts.events")),
		now:    o.now,
		logger: logFor("accounts.lifecycle"),
	}

	s.register = &RegisterAccountHandler{
		accounts:          s.accounts,
		hasher:            hasher,
		tokens:            tokens,
		events:            s.events,
		now:               o.now,
		requireActivation: o.requireActivation,
		logger:            s.logger,
	}
	s.resetRequest = &RequestPasswordResetHandler{
		accounts: s.accounts,
		resets:   s.resets,
		events:   s.events,
		logger:   logFor("accounts.password_reset"),
	}
	s.resetConfirm = &ConfirmPasswordResetHandler{
		accounts: s.accounts,
		resets:   s.resets,
		events:   s.events,
		logger:   logFor("accounts.password_reset"),
	}

	return s, nil
}

// RegisterHandler exposes the registration command for message based transports.
func (s *Service) RegisterHandler() command.Commander[RegisterAccountMessage] { return s.register }

// RequestPasswordResetHandler exposes the reset request command.
func (s *Service) RequestPasswordResetHandler() command.Commander[RequestPasswordResetMessage] {
	return s.resetRequest
}

// ConfirmPasswordResetHandler exposes the reset confirm command.
func (s *Service) ConfirmPasswordResetHandler() command.Commander[ConfirmPasswordResetMessage] {
	return s.resetConfirm
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
}

// Register creates a USER account and its profile.
func (s *Service) Register(ctx context.Context, fields NewAccount) (*RegisterAccountResponse, error) {
	var resp *RegisterAccountResponse
	err := s.register.Execute(ctx, RegisterAccountMessage{
		NewAccount: fields,
		OnResponse: func(r *RegisterAccountResponse) { resp = r },
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Activate moves a PENDING account to ACTIVE. Activating an ACTIVE account is
// a no-op that emits nothing.
func (s *Service) Activate(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var result *Account
	err := retryOnConflict(ctx, func() error {
		current, err := s.accounts.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusPending, StatusActive:
		case StatusDeletionRequested:
			return ErrDeletionPending
		default:
			return ErrInvalidTransition
		}

		updated, changed, err := s.stateMachine.Transition(ctx, current, StatusActive)
		if err != nil {
			return err
		}
		result = updated
		if changed {
			evt := accountEvent(EventAccountActivated, updated, s.profileFor(ctx, userID))
			evt.FromStatus, evt.ToStatus = current.Status, updated.Status
			s.events.emit(ctx, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Login verifies credentials and issues a bearer token. Unknown emails and
// wrong passwords both fail with ErrInvalidCredentials after the same amount
// of hashing work.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up account")
		}
		s.hasher.Verify(password, s.dummyPasswordHash())
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		s.logger.Debug("login rejected", "user_id", account.ID)
		return nil, ErrInvalidCredentials
	}

	if err := loginStatusError(account.Status); err != nil {
		return nil, err
	}

	now := s.now()
	err = retryOnConflict(ctx, func() error {
		current, err := s.accounts.GetByID(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := loginStatusError(current.Status); err != nil {
			return err
		}
		next := current.Clone()
		next.LastLoginAt = &now
		next.UpdatedAt = now
		account, err = s.accounts.Update(ctx, next, current.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(TokenSubject{UserID: account.ID, Role: account.Role, Email: account.Email})
	if err != nil {
		return nil, err
	}

	evt := accountEvent(EventUserLoggedIn, account, s.profileFor(ctx, account.ID))
	evt.LoginTimestamp = &now
	s.events.emit(ctx, evt)

	result := &LoginResult{Token: token, Account: account}
	if claims, err := s.tokens.Verify(token); err == nil {
		result.ExpiresAt = claims.Expires()
	}
	return result, nil
}

// Deactivate moves an ACTIVE account to DEACTIVATED. Admins may deactivate
// anyone, users only themselves.
func (s *Service) Deactivate(ctx context.Context, actor Actor, target uuid.UUID) (*Account, error) {
	if !Allow(actor.Role, actor.ID, target, ActionDeactivate) {
		return nil, ErrAccessDenied
	}
	return s.transition(ctx, actor, target, StatusDeactivated, EventAccountDeactivated, func(current *Account) error {
		if current.Status == StatusPending {
			return ErrInvalidTransition
		}
		return nil
	})
}

// Reactivate moves a DEACTIVATED account back to ACTIVE. Admin only.
func (s *Service) Reactivate(ctx context.Context, actor Actor, target uuid.UUID) (*Account, error) {
	if !Allow(actor.Role, actor.ID, target, ActionReactivate) {
		return nil, ErrAccessDenied
	}
	return s.transition(ctx, actor, target, StatusActive, EventAccountReactivated, func(current *Account) error {
		if current.Status == StatusPending {
			return ErrInvalidTransition
		}
		return nil
	})
}

// RequestAccountDeletion puts the actor's own account on hold for the purge job.
func (s *Service) RequestAccountDeletion(ctx context.Context, actor Actor, target uuid.UUID) (*Account, error) {
	if !allowDeletionRequest(actor, target) {
		return nil, ErrAccessDenied
	}
	return s.transition(ctx, actor, target, StatusDeletionRequested, EventAccountDeletionRequested, func(current *Account) error {
		if current.Status == StatusDeletionRequested {
			return ErrAlreadyRequested
		}
		return nil
	})
}

// DeleteAccount permanently removes an account and its profile. Admin only.
// The emitted UserDeleted event carries a snapshot taken before removal.
func (s *Service) DeleteAccount(ctx context.Context, actor Actor, target uuid.UUID) error {
	if !Allow(actor.Role, actor.ID, target, ActionDelete) {
		return ErrAccessDenied
	}

	var snapshot Event
	err := retryOnConflict(ctx, func() error {
		current, err := s.accounts.GetByID(ctx, target)
		if err != nil {
			return err
		}
		snapshot = accountEvent(EventUserDeleted, current, s.profileFor(ctx, target))
		return s.accounts.Delete(ctx, target, current.Version)
	})
	if err != nil {
		return err
	}

	snapshot.ActorID = actor.ID.String()
	s.events.emit(ctx, snapshot)
	s.logger.Info("account deleted", "user_id", target, "actor_id", actor.ID)
	return nil
}

// CreateAdmin creates an ACTIVE ADMIN account. Only admins may call it.
func (s *Service) CreateAdmin(ctx context.Context, actor Actor, fields NewAccount) (*AccountView, error) {
	if !Allow(actor.Role, actor.ID, uuid.Nil, ActionCreateAdmin) {
		return nil, ErrAccessDenied
	}
	if fields.ConfirmPassword != "" && fields.ConfirmPassword != fields.Password {
		return nil, ErrPasswordMismatch
	}

	account, profile, err := s.register.create(ctx, fields, RoleAdmin, StatusActive)
	if err != nil {
		return nil, err
	}

	evt := accountEvent(EventAdminCreated, account, profile)
	evt.ActorID = actor.ID.String()
	evt.ToStatus = account.Status
	s.events.emit(ctx, evt)

	return &AccountView{Account: account, Profile: profile}, nil
}

// UpdateRole changes the role of target. Admin only. Setting the current role
// is a no-op that emits nothing.
func (s *Service) UpdateRole(ctx context.Context, actor Actor, target uuid.UUID, role Role) (*Account, error) {
	if !Allow(actor.Role, actor.ID, target, ActionUpdateRole) {
		return nil, ErrAccessDenied
	}
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}

	var result *Account
	var previous Role
	err := retryOnConflict(ctx, func() error {
		current, err := s.accounts.GetByID(ctx, target)
		if err != nil {
			return err
		}
		if current.Status.IsHeld() {
			return ErrDeletionPending
		}
		previous = current.Role
		if current.Role == role {
			result = current
			return nil
		}
		next := current.Clone()
		next.Role = role
		next.UpdatedAt = s.now()
		result, err = s.accounts.Update(ctx, next, current.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	if previous != role {
		evt := accountEvent(EventUserRoleUpdated, result, s.profileFor(ctx, target))
		evt.ActorID = actor.ID.String()
		s.events.emit(ctx, evt)
		s.logger.Info("account role updated", "user_id", target, "from", previous, "to", role, "actor_id", actor.ID)
	}
	return result, nil
}

// UpdateProfile applies a partial profile update. Admins may edit any
// profile, users only their own.
func (s *Service) UpdateProfile(ctx context.Context, actor Actor, target uuid.UUID, fields ProfileFields) (*AccountView, error) {
	if !Allow(actor.Role, actor.ID, target, ActionUpdateProfile) {
		return nil, ErrAccessDenied
	}

	account, err := s.accounts.GetByID(ctx, target)
	if err != nil {
		return nil, err
	}
	if account.Status.IsHeld() {
		return nil, ErrDeletionPending
	}

	profile, err := s.accounts.GetProfile(ctx, target)
	if err != nil {
		return nil, err
	}

	if fields.IsEmpty() {
		return &AccountView{Account: account, Profile: profile}, nil
	}

	next := profile.Clone()
	fields.Apply(next)
	next.UpdatedAt = s.now()

	stored, err := s.accounts.UpdateProfile(ctx, next)
	if err != nil {
		return nil, err
	}

	evt := accountEvent(EventProfileUpdated, account, stored)
	evt.ActorID = actor.ID.String()
	s.events.emit(ctx, evt)

	return &AccountView{Account: account, Profile: stored}, nil
}

// GetAccount returns the account joined with its profile. Admins may read any
// account, users only their own.
func (s *Service) GetAccount(ctx context.Context, actor Actor, target uuid.UUID) (*AccountView, error) {
	if !Allow(actor.Role, actor.ID, target, ActionViewAccount) {
		return nil, ErrAccessDenied
	}

	account, err := s.accounts.GetByID(ctx, target)
	if err != nil {
		return nil, err
	}
	profile, err := s.accounts.GetProfile(ctx, target)
	if err != nil {
		return nil, err
	}
	return &AccountView{Account: account, Profile: profile}, nil
}

// RequestPasswordReset issues a reset token for email. It reports success for
// unknown emails so callers cannot learn which addresses exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.resetRequest.Execute(ctx, RequestPasswordResetMessage{Email: email})
}

// ConfirmPasswordReset consumes token and sets the new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, password, confirmPassword string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.resetConfirm.Execute(ctx, ConfirmPasswordResetMessage{
		Token:           token,
		Password:        password,
		ConfirmPassword: confirmPassword,
		OnResponse:      func(r *ConfirmPasswordResetResponse) { userID = r.UserID },
	})
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// transition runs guard and the state machine under retryOnConflict and
// emits kind when the status changed.
func (s *Service) transition(ctx context.Context, actor Actor, target uuid.UUID, to AccountStatus, kind EventKind, guard func(current *Account) error) (*Account, error) {
	var result *Account
	err := retryOnConflict(ctx, func() error {
		current, err := s.accounts.GetByID(ctx, target)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}

		updated, changed, err := s.stateMachine.Transition(ctx, current, to)
		if err != nil {
			return err
		}
		result = updated
		if changed {
			evt := accountEvent(kind, updated, s.profileFor(ctx, target))
			evt.FromStatus, evt.ToStatus = current.Status, updated.Status
			evt.ActorID = actor.ID.String()
			s.events.emit(ctx, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) profileFor(ctx context.Context, userID uuid.UUID) *Profile {
	profile, err := s.accounts.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Debug("profile lookup failed", "user_id", userID, "error", err)
		return nil
	}
	return profile
}

// dummyPasswordHash is verified against for unknown emails so login latency
// does not reveal whether an account exists.
func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.Error("failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func loginStatusError(status AccountStatus) error {
	switch status {
	case StatusActive:
		return nil
	case StatusPending:
		return ErrAccountNotActivated
	case StatusDeactivated:
		return ErrAccountDeactivated
	case StatusDeletionRequested:
		return ErrDeletionPending
	default:
		return ErrInvalidCredentials
	}
}
