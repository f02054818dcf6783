package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/adapters/memory"
	"github.com/goliatone/go-accounts/server"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const password = "correct horse"

type fixture struct {
	srv    *server.Server
	store  *memory.Store
	tokens *accounts.TokenService

	mu     sync.Mutex
	events []accounts.Event
}

func newFixture(t *testing.T, opts ...server.Option) *fixture {
	t.Helper()

	f := &fixture{store: memory.NewStore()}

	hasher, err := accounts.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	f.tokens, err = accounts.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute, "Blazemhan")
	require.NoError(t, err)

	svc, err := accounts.NewService(f.store, hasher, f.tokens,
		accounts.WithEventPublisher(accounts.EventPublisherFunc(func(ctx context.Context, topic string, event accounts.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, event)
			return nil
		})),
	)
	require.NoError(t, err)

	f.srv, err = server.New(svc, f.tokens, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.srv.Shutdown(context.Background()) })

	return f
}

func (f *fixture) lastEvent(t *testing.T, kind accounts.EventKind) accounts.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Kind == kind {
			return f.events[i]
		}
	}
	t.Fatalf("no %s event published", kind)
	return accounts.Event{}
}

type response struct {
	status int
	header http.Header
	raw    string
	body   map[string]any
}

func (r response) errorField(key string) any {
	e, _ := r.body["error"].(map[string]any)
	return e[key]
}

func (f *fixture) do(t *testing.T, method, path string, payload any, token string) response {
	t.Helper()

	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case string:
		body = strings.NewReader(p)
	default:
		b, err := json.Marshal(p)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := response{status: resp.StatusCode, header: resp.Header, raw: string(raw)}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func registerBody(email string) map[string]any {
	return map[string]any{
		"email":            email,
		"password":         password,
		"confirm_password": password,
		"first_name":       "Ada",
		"last_name":        "Lovelace",
	}
}

// registerActive registers, activates and logs in email, returning its id
// and bearer token.
func (f *fixture) registerActive(t *testing.T, email string) (uuid.UUID, string) {
	t.Helper()

	r := f.do(t, http.MethodPost, "/v1/api/auth/register", registerBody(email), "")
	require.Equal(t, http.StatusCreated, r.status, r.raw)

	account := r.body["account"].(map[string]any)
	id := uuid.MustParse(account["id"].(string))

	r = f.do(t, http.MethodPost, "/v1/api/auth/activate/"+id.String(), nil, "")
	require.Equal(t, http.StatusOK, r.status, r.raw)

	return id, f.login(t, email, password)
}

func (f *fixture) login(t *testing.T, email, pwd string) string {
	t.Helper()
	r := f.do(t, http.MethodPost, "/v1/api/auth/login", map[string]any{"email": email, "password": pwd}, "")
	require.Equal(t, http.StatusOK, r.status, r.raw)
	return r.body["token"].(string)
}

// seedAdmin promotes a fresh account straight in the store.
func (f *fixture) seedAdmin(t *testing.T, email string) (uuid.UUID, string) {
	t.Helper()
	id, _ := f.registerActive(t, email)

	ctx := context.Background()
	current, err := f.store.Accounts().GetByID(ctx, id)
	require.NoError(t, err)
	next := current.Clone()
	next.Role = accounts.RoleAdmin
	_, err = f.store.Accounts().Update(ctx, next, current.Version)
	require.NoError(t, err)

	return id, f.login(t, email, password)
}

func TestNewRequiresDependencies(t *testing.T) {
	tokens, err := accounts.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Minute, "x")
	require.NoError(t, err)

	_, err = server.New(nil, tokens)
	assert.Error(t, err)

	_, err = server.New(&accounts.Service{}, nil)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	t.Run("creates a pending account", func(t *testing.T) {
		r := f.do(t, http.MethodPost, "/v1/api/auth/register", registerBody("ada@example.com"), "")
		require.Equal(t, http.StatusCreated, r.status, r.raw)

		account := r.body["account"].(map[string]any)
		assert.Equal(t, "ada@example.com", account["email"])
		assert.Equal(t, "PENDING", account["status"])
		assert.Equal(t, "USER", account["role"])
		assert.NotContains(t, r.raw, "$2a$")
		assert.NotContains(t, r.raw, "password")
		assert.Nil(t, r.body["token"])
	})

	t.Run("duplicate email", func(t *testing.T) {
		r := f.do(t, http.MethodPost, "/v1/api/auth/register", registerBody("ADA@example.com"), "")
		assert.Equal(t, http.StatusConflict, r.status)
		assert.Equal(t, accounts.TextCodeDuplicateEmail, r.errorField("text_code"))
	})

	t.Run("password mismatch", func(t *testing.T) {
		body := registerBody("grace@example.com")
		body["confirm_password"] = "something else"
		r := f.do(t, http.MethodPost, "/v1/api/auth/register", body, "")
		assert.Equal(t, http.StatusBadRequest, r.status)
		assert.Equal(t, accounts.TextCodePasswordMismatch, r.errorField("text_code"))
	})

	t.Run("validation errors list fields", func(t *testing.T) {
		body := registerBody("not-an-email")
		body["date_of_birth"] = "10/12/1815"
		r := f.do(t, http.MethodPost, "/v1/api/auth/register", body, "")
		require.Equal(t, http.StatusBadRequest, r.status)
		assert.Equal(t, accounts.TextCodeValidation, r.errorField("text_code"))

		fields := map[string]bool{}
		for _, v := range r.errorField("validation_errors").([]any) {
			fields[v.(map[string]any)["field"].(string)] = true
		}
		assert.True(t, fields["email"])
		assert.True(t, fields["date_of_birth"])
	})

	t.Run("malformed body", func(t *testing.T) {
		r := f.do(t, http.MethodPost, "/v1/api/auth/register", "{not json", "")
		assert.Equal(t, http.StatusBadRequest, r.status)
		assert.Equal(t, server.TextCodeBadRequest, r.errorField("text_code"))
	})

	t.Run("profile text is sanitized", func(t *testing.T) {
		body := registerBody("markup@example.com")
		body["first_name"] = `<script>alert(1)</script><b>Augusta</b>`
		r := f.do(t, http.MethodPost, "/v1/api/auth/register", body, "")
		require.Equal(t, http.StatusCreated, r.status, r.raw)
		profile := r.body["profile"].(map[string]any)
		assert.Equal(t, "Augusta", profile["first_name"])
	})
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)

	r := f.do(t, http.MethodPost, "/v1/api/auth/register", registerBody("ada@example.com"), "")
	require.Equal(t, http.StatusCreated, r.status)
	id := r.body["account"].(map[string]any)["id"].(string)

	r = f.do(t, http.MethodPost, "/v1/api/auth/login", map[string]any{"email": "ada@example.com", "password": password}, "")
	assert.Equal(t, http.StatusForbidden, r.status)
	assert.Equal(t, "ACCOUNT_PENDING", r.errorField("text_code"))

	r = f.do(t, http.MethodPost, "/v1/api/auth/activate/"+id, nil, "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "ACTIVE", r.body["account"].(map[string]any)["status"])

	r = f.do(t, http.MethodPost, "/v1/api/auth/login", map[string]any{"email": "ada@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, r.status)
	assert.Equal(t, "INVALID_CREDENTIALS", r.errorField("text_code"))

	r = f.do(t, http.MethodPost, "/v1/api/auth/login", map[string]any{"email": "ada@example.com", "password": password}, "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "Bearer", r.body["token_type"])
	token := r.body["token"].(string)

	claims, err := f.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UID)

	r = f.do(t, http.MethodGet, "/v1/api/auth/users/"+id+"/info", nil, token)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, "Ada", r.body["profile"].(map[string]any)["first_name"])

	r = f.do(t, http.MethodGet, "/v1/api/auth/users/"+id+"/info", nil, "")
	assert.Equal(t, http.StatusUnauthorized, r.status)

	r = f.do(t, http.MethodGet, "/v1/api/auth/users/"+uuid.NewString()+"/info", nil, token)
	assert.Equal(t, http.StatusForbidden, r.status)
	assert.Equal(t, accounts.TextCodeAccessDenied, r.errorField("text_code"))

	r = f.do(t, http.MethodGet, "/v1/api/auth/users/not-a-uuid/info", nil, token)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestProfileUpdate(t *testing.T) {
	f := newFixture(t)
	id, token := f.registerActive(t, "ada@example.com")

	r := f.do(t, http.MethodPut, "/v1/api/auth/profiles/"+id.String(), map[string]any{
		"first_name":    "<i>Augusta</i>",
		"date_of_birth": "1815-12-10",
	}, token)
	require.Equal(t, http.StatusOK, r.status, r.raw)

	profile := r.body["profile"].(map[string]any)
	assert.Equal(t, "Augusta", profile["first_name"])
	assert.Equal(t, "Lovelace", profile["last_name"])
	assert.Equal(t, accounts.EventProfileUpdated, f.lastEvent(t, accounts.EventProfileUpdated).Kind)

	r = f.do(t, http.MethodPut, "/v1/api/auth/profiles/"+id.String(), map[string]any{"avatar_url": "not a url"}, token)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	_, adminToken := f.seedAdmin(t, "root@example.com")
	userID, userToken := f.registerActive(t, "ada@example.com")
	user := userID.String()

	t.Run("users cannot deactivate", func(t *testing.T) {
		r := f.do(t, http.MethodPost, "/v1/api/auth/users/"+user+"/deactivate", nil, userToken)
		assert.Equal(t, http.StatusForbidden, r.status)
	})

	t.Run("deactivate and reactivate", func(t *testing.T) {
		r := f.do(t, http.MethodPost, "/v1/api/auth/users/"+user+"/deactivate", nil, adminToken)
		require.Equal(t, http.StatusOK, r.status, r.raw)
		assert.Equal(t, "DEACTIVATED", r.body["account"].(map[string]any)["status"])

		r = f.do(t, http.MethodPost, "/v1/api/auth/login", map[string]any{"email": "ada@example.com", "password": password}, "")
		assert.Equal(t, http.StatusForbidden, r.status)
		assert.Equal(t, "ACCOUNT_DISABLED", r.errorField("text_code"))

		r = f.do(t, http.MethodPost, "/v1/api/auth/users/"+user+"/reactivate", nil, adminToken)
		require.Equal(t, http.StatusOK, r.status, r.raw)
		assert.Equal(t, "ACTIVE", r.body["account"].(map[string]any)["status"])
	})

	t.Run("role update", func(t *testing.T) {
		r := f.do(t, http.MethodPut, "/v1/api/auth/users/"+user+"/role", map[string]any{"role": "ADMIN"}, userToken)
		assert.Equal(t, http.StatusForbidden, r.status, "authorization is checked before the role value")

		r = f.do(t, http.MethodPut, "/v1/api/auth/users/"+user+"/role", map[string]any{"role": "ROOT"}, adminToken)
		assert.Equal(t, http.StatusBadRequest, r.status)
		assert.Equal(t, accounts.TextCodeInvalidRole, r.errorField("text_code"))

		r = f.do(t, http.MethodPut, "/v1/api/auth/users/"+user+"/role", map[string]any{"role": "ADMIN"}, adminToken)
		require.Equal(t, http.StatusOK, r.status, r.raw)
		assert.Equal(t, "ADMIN", r.body["account"].(map[string]any)["role"])
	})

	t.Run("create admin", func(t *testing.T) {
		r := f.do(t, http.MethodPost, "/v1/api/auth/admins", registerBody("ops@example.com"), adminToken)
		require.Equal(t, http.StatusCreated, r.status, r.raw)
		account := r.body["account"].(map[string]any)
		assert.Equal(t, "ADMIN", account["role"])
		assert.Equal(t, "ACTIVE", account["status"])
	})

	t.Run("delete", func(t *testing.T) {
		victim, _ := f.registerActive(t, "victim@example.com")

		r := f.do(t, http.MethodDelete, "/v1/api/auth/users/"+victim.String(), nil, adminToken)
		require.Equal(t, http.StatusNoContent, r.status, r.raw)

		r = f.do(t, http.MethodGet, "/v1/api/auth/users/"+victim.String()+"/info", nil, adminToken)
		assert.Equal(t, http.StatusNotFound, r.status)
		assert.Equal(t, accounts.TextCodeAccountNotFound, r.errorField("text_code"))
	})
}

func TestDeletionRequest(t *testing.T) {
	f := newFixture(t)
	id, token := f.registerActive(t, "ada@example.com")
	path := "/v1/api/auth/users/" + id.String() + "/deletion-request"

	r := f.do(t, http.MethodPost, path, nil, token)
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, "DELETION_REQUESTED", r.body["account"].(map[string]any)["status"])

	r = f.do(t, http.MethodPost, path, nil, token)
	assert.Equal(t, http.StatusConflict, r.status)
	assert.Equal(t, accounts.TextCodeDeletionAlreadyPending, r.errorField("text_code"))

	r = f.do(t, http.MethodPut, "/v1/api/auth/profiles/"+id.String(), map[string]any{"first_name": "x"}, token)
	assert.Equal(t, http.StatusConflict, r.status)
	assert.Equal(t, accounts.TextCodeDeletionRequested, r.errorField("text_code"))
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	id, _ := f.registerActive(t, "ada@example.com")

	r := f.do(t, http.MethodPost, "/v1/api/auth/reset-password/request", map[string]any{"email": "nobody@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, r.status)

	r = f.do(t, http.MethodPost, "/v1/api/auth/reset-password/request", map[string]any{"email": "ada@example.com"}, "")
	require.Equal(t, http.StatusAccepted, r.status)
	assert.NotContains(t, r.raw, "token")

	token := f.lastEvent(t, accounts.EventPasswordResetRequested).Token
	require.NotEmpty(t, token)

	confirm := map[string]any{"token": token, "password": "new secret", "confirm_password": "new secret"}
	r = f.do(t, http.MethodPost, "/v1/api/auth/reset-password/confirm", confirm, "")
	require.Equal(t, http.StatusOK, r.status, r.raw)
	assert.Equal(t, id.String(), r.body["user_id"])

	r = f.do(t, http.MethodPost, "/v1/api/auth/reset-password/confirm", confirm, "")
	assert.Equal(t, http.StatusGone, r.status)
	assert.Equal(t, "TOKEN_ALREADY_USED", r.errorField("text_code"))

	r = f.do(t, http.MethodPost, "/v1/api/auth/reset-password/confirm", map[string]any{"token": "bogus", "password": "a", "confirm_password": "a"}, "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, accounts.TextCodeInvalidResetToken, r.errorField("text_code"))

	f.login(t, "ada@example.com", "new secret")
}

func TestLoginRateLimit(t *testing.T) {
	f := newFixture(t, server.WithLoginRateLimit(server.PerMinute(1, 1)))

	body := map[string]any{"email": "nobody@example.com", "password": "whatever"}
	r := f.do(t, http.MethodPost, "/v1/api/auth/login", body, "")
	assert.Equal(t, http.StatusUnauthorized, r.status)

	r = f.do(t, http.MethodPost, "/v1/api/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, r.status)
	assert.Equal(t, "60", r.header.Get(fiber.HeaderRetryAfter))

	r = f.do(t, http.MethodPost, "/v1/api/auth/reset-password/request", map[string]any{"email": "nobody@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, r.status, "routes are throttled independently")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t,
		server.WithHealthCheck("store", func(ctx context.Context) error { return nil }),
	)
	r := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "up", r.body["checks"].(map[string]any)["store"])

	down := newFixture(t,
		server.WithHealthCheck("store", func(ctx context.Context) error { return errors.New("gone") }),
	)
	r = down.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, r.status)
	assert.Equal(t, "down", r.body["checks"].(map[string]any)["store"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, server.WithRegistry(reg))

	f.do(t, http.MethodPost, "/v1/api/auth/login", map[string]any{"email": "nobody@example.com", "password": "x"}, "")

	r := f.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, r.raw, `accounts_http_requests_total{method="POST",route="/v1/api/auth/login",status="401"} 1`)
	assert.Contains(t, r.raw, "accounts_http_request_duration_seconds")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	r := f.do(t, http.MethodGet, "/v1/api/auth/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "ROUTE_NOT_FOUND", r.errorField("text_code"))
}
