package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/garage-core/internal/api/dto"
	"github.com/spec-kit/garage-core/internal/client"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/domain"
	"github.com/spec-kit/garage-core/internal/events"
	"github.com/spec-kit/garage-core/internal/store"
)

const (
	tokenKey = "auth_token"
	userKey  = "user_data"
)

// fakeAuth is an Authenticator whose behavior each test sets per method.
type fakeAuth struct {
	mu            sync.Mutex
	login         func(context.Context, dto.LoginRequest) (dto.AuthResponse, error)
	register      func(context.Context, dto.RegisterRequest) (dto.AuthResponse, error)
	logout        func(context.Context, string) error
	validate      func(context.Context) (bool, error)
	profile       func(context.Context) (domain.User, error)
	updateProfile func(context.Context, map[string]any) (domain.User, error)

	validateCalls int
	logoutTokens  []string
}

func (f *fakeAuth) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	return f.login(ctx, req)
}

func (f *fakeAuth) Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	return f.register(ctx, req)
}

func (f *fakeAuth) Logout(ctx context.Context, token string) error {
	f.mu.Lock()
	f.logoutTokens = append(f.logoutTokens, token)
	f.mu.Unlock()
	if f.logout == nil {
		return nil
	}
	return f.logout(ctx, token)
}

func (f *fakeAuth) ValidateToken(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.validateCalls++
	f.mu.Unlock()
	return f.validate(ctx)
}

func (f *fakeAuth) Profile(ctx context.Context) (domain.User, error) {
	return f.profile(ctx)
}

func (f *fakeAuth) UpdateProfile(ctx context.Context, patch map[string]any) (domain.User, error) {
	return f.updateProfile(ctx, patch)
}

func newManager(t *testing.T, auth *fakeAuth) (*Manager, *store.Store) {
	t.Helper()
	st := store.New(store.NewMemoryBackend(), nil)
	m := NewManager(config.SessionConfig{TokenKey: tokenKey, UserKey: userKey}, Dependencies{
		Auth:  auth,
		Store: st,
	})
	return m, st
}

func loginAs(user domain.User, token string) func(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
	return func(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
		return dto.AuthResponse{User: user, Token: token}, nil
	}
}

func persistedToken(t *testing.T, st *store.Store) string {
	t.Helper()
	return store.Get(context.Background(), st, tokenKey, "").Value
}

func requireNothingPersisted(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	assert.False(t, st.Exists(ctx, tokenKey).Value)
	assert.False(t, st.Exists(ctx, userKey).Value)
}

func TestLoginPersistsSession(t *testing.T) {
	auth := &fakeAuth{login: func(_ context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
		assert.Equal(t, "a@b.com", req.Email)
		assert.Equal(t, "x", req.Password)
		return dto.AuthResponse{User: domain.User{ID: "1"}, Token: "abc"}, nil
	}}
	m, st := newManager(t, auth)

	require.NoError(t, m.Login(context.Background(), Credentials{Email: "a@b.com", Password: "x"}))

	assert.Equal(t, "abc", persistedToken(t, st))
	s := m.Session()
	assert.True(t, s.IsAuthenticated)
	assert.False(t, s.IsLoading)
	assert.Equal(t, StateAuthenticated, s.State)
	assert.Equal(t, "1", s.User.ID)

	stored := store.Get[*domain.User](context.Background(), st, userKey, nil).Value
	require.NotNil(t, stored)
	assert.Equal(t, "1", stored.ID)
}

func TestLoginFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", &client.Error{Kind: client.KindAuth, Status: http.StatusUnauthorized, Message: "bad password"}, MessageInvalidCredentials},
		{"server", &client.Error{Kind: client.KindServer, Status: http.StatusBadGateway, Message: "upstream"}, MessageServerError},
		{"client", &client.Error{Kind: client.KindClient, Status: http.StatusUnprocessableEntity, Message: "email is malformed"}, "email is malformed"},
		{"network", &client.Error{Kind: client.KindNetwork, Message: "network request failed"}, "network request failed"},
		{"plain", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuth{login: func(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
				return dto.AuthResponse{}, tt.err
			}}
			m, st := newManager(t, auth)

			err := m.Login(context.Background(), Credentials{Email: "a@b.com", Password: "x"})
			assert.ErrorIs(t, err, tt.err)

			s := m.Session()
			assert.Equal(t, tt.want, s.Error)
			assert.False(t, s.IsAuthenticated)
			assert.False(t, s.IsLoading)
			assert.Nil(t, s.User)
			assert.Empty(t, s.Token)
			requireNothingPersisted(t, st)
		})
	}
}

func TestLoginFailureClearsPreviousSession(t *testing.T) {
	auth := &fakeAuth{login: loginAs(domain.User{ID: "1"}, "abc")}
	m, st := newManager(t, auth)
	require.NoError(t, m.Login(context.Background(), Credentials{}))

	auth.login = func(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
		return dto.AuthResponse{}, &client.Error{Kind: client.KindAuth, Status: http.StatusUnauthorized}
	}
	require.Error(t, m.Login(context.Background(), Credentials{}))

	assert.False(t, m.Session().IsAuthenticated)
	requireNothingPersisted(t, st)
}

func TestRegisterUsesSameContract(t *testing.T) {
	auth := &fakeAuth{register: func(_ context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
		return dto.AuthResponse{User: domain.User{ID: "9", Name: req.Name, Role: domain.RoleClient}, Token: "reg"}, nil
	}}
	m, st := newManager(t, auth)

	require.NoError(t, m.Register(context.Background(), Registration{Name: "Ana", Email: "a@x", Password: "pw"}))
	assert.Equal(t, "reg", persistedToken(t, st))
	assert.Equal(t, "Ana", m.Session().User.Name)

	auth.register = func(context.Context, dto.RegisterRequest) (dto.AuthResponse, error) {
		return dto.AuthResponse{}, &client.Error{Kind: client.KindServer, Status: 500}
	}
	require.Error(t, m.Register(context.Background(), Registration{}))
	assert.Equal(t, MessageServerError, m.Session().Error)
	requireNothingPersisted(t, st)
}

func TestClearError(t *testing.T) {
	auth := &fakeAuth{login: func(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
		return dto.AuthResponse{}, &client.Error{Kind: client.KindAuth}
	}}
	m, _ := newManager(t, auth)
	_ = m.Login(context.Background(), Credentials{})
	before := m.Session()
	require.NotEmpty(t, before.Error)

	m.ClearError()
	after := m.Session()
	assert.Empty(t, after.Error)
	before.Error = ""
	assert.Equal(t, before, after)
}

func TestRestoreWithoutPersistedSession(t *testing.T) {
	auth := &fakeAuth{}
	m, _ := newManager(t, auth)

	require.NoError(t, m.Restore(context.Background()))
	s := m.Session()
	assert.Equal(t, StateUnauthenticated, s.State)
	assert.False(t, s.IsLoading)
	assert.Zero(t, auth.validateCalls)
}

func seed(t *testing.T, st *store.Store, token string) {
	t.Helper()
	require.True(t, st.SetMultiple(context.Background(), map[string]any{
		tokenKey: token,
		userKey:  domain.User{ID: "1", Name: "Ana"},
	}).Value)
}

func TestRestoreValidSession(t *testing.T) {
	auth := &fakeAuth{validate: func(context.Context) (bool, error) { return true, nil }}
	m, st := newManager(t, auth)
	seed(t, st, "abc")

	require.NoError(t, m.Restore(context.Background()))
	s := m.Session()
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, "abc", s.Token)
	assert.Equal(t, "Ana", s.User.Name)
	assert.False(t, s.IsLoading)
}

func TestRestoreInvalidTokenPurges(t *testing.T) {
	tests := []struct {
		name     string
		validate func(context.Context) (bool, error)
	}{
		{"rejected", func(context.Context) (bool, error) { return false, nil }},
		{"server down", func(context.Context) (bool, error) {
			return false, &client.Error{Kind: client.KindServer, Status: 503}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, st := newManager(t, &fakeAuth{validate: tt.validate})
			seed(t, st, "abc")

			require.NoError(t, m.Restore(context.Background()))
			s := m.Session()
			assert.False(t, s.IsAuthenticated)
			assert.Nil(t, s.User)
			assert.Empty(t, s.Token)
			assert.Empty(t, s.Error, "restore failures are not shown to the user")
			requireNothingPersisted(t, st)
		})
	}
}

func TestRestoreExpiredJWTSkipsNetwork(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	auth := &fakeAuth{validate: func(context.Context) (bool, error) { return true, nil }}
	m, st := newManager(t, auth)
	seed(t, st, expired)

	require.NoError(t, m.Restore(context.Background()))
	assert.False(t, m.Session().IsAuthenticated)
	assert.Zero(t, auth.validateCalls)
	requireNothingPersisted(t, st)
}

func TestRestoreCanceledKeepsPersistedSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	auth := &fakeAuth{validate: func(context.Context) (bool, error) {
		cancel()
		return false, &client.Error{Kind: client.KindCanceled, Err: context.Canceled}
	}}
	m, st := newManager(t, auth)
	seed(t, st, "abc")

	err := m.Restore(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Session().IsAuthenticated)
	assert.Equal(t, "abc", persistedToken(t, st))
}

func TestLogoutSwallowsServerFailure(t *testing.T) {
	auth := &fakeAuth{
		login:  loginAs(domain.User{ID: "1"}, "abc"),
		logout: func(context.Context, string) error { return &client.Error{Kind: client.KindNetwork} },
	}
	m, st := newManager(t, auth)
	require.NoError(t, m.Login(context.Background(), Credentials{}))

	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, []string{"abc"}, auth.logoutTokens)

	s := m.Session()
	assert.Equal(t, StateUnauthenticated, s.State)
	assert.False(t, s.IsAuthenticated)
	assert.False(t, s.IsLoading)
	requireNothingPersisted(t, st)
}

func TestLogoutWithCanceledContextStillPurges(t *testing.T) {
	auth := &fakeAuth{login: loginAs(domain.User{ID: "1"}, "abc")}
	m, st := newManager(t, auth)
	require.NoError(t, m.Login(context.Background(), Credentials{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Logout(ctx))
	requireNothingPersisted(t, st)
}

func TestLogoutRacingLoginWins(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	auth := &fakeAuth{login: func(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
		close(started)
		<-release
		return dto.AuthResponse{User: domain.User{ID: "1"}, Token: "late"}, nil
	}}
	m, st := newManager(t, auth)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Login(context.Background(), Credentials{}) }()
	<-started

	require.NoError(t, m.Logout(context.Background()))
	close(release)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.False(t, m.Session().IsAuthenticated)
	requireNothingPersisted(t, st)
}

func TestLoginStartedAfterLogoutWins(t *testing.T) {
	logoutStarted := make(chan struct{})
	releaseLogout := make(chan struct{})
	auth := &fakeAuth{
		login: loginAs(domain.User{ID: "2"}, "fresh"),
		logout: func(context.Context, string) error {
			close(logoutStarted)
			<-releaseLogout
			return nil
		},
	}
	m, st := newManager(t, auth)
	seed(t, st, "old")

	done := make(chan error, 1)
	go func() { done <- m.Logout(context.Background()) }()
	<-logoutStarted

	require.NoError(t, m.Login(context.Background(), Credentials{}))
	close(releaseLogout)
	require.NoError(t, <-done)

	assert.True(t, m.Session().IsAuthenticated)
	assert.Equal(t, "fresh", persistedToken(t, st))
}

func TestUpdateUser(t *testing.T) {
	auth := &fakeAuth{login: loginAs(domain.User{ID: "1", Name: "Ana", Email: "a@x"}, "abc")}
	m, st := newManager(t, auth)

	assert.ErrorIs(t, m.UpdateUser(context.Background(), map[string]any{"name": "x"}), ErrNotAuthenticated)

	require.NoError(t, m.Login(context.Background(), Credentials{}))
	require.NoError(t, m.UpdateUser(context.Background(), map[string]any{"name": "Ana B", "preferredGarage": "north"}))

	s := m.Session()
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, "Ana B", s.User.Name)
	assert.Equal(t, "a@x", s.User.Email)

	stored := store.Get[map[string]any](context.Background(), st, userKey, nil).Value
	assert.Equal(t, "Ana B", stored["name"])
	assert.Equal(t, "north", stored["preferredGarage"])
}

func TestUpdateProfileMergesServerResult(t *testing.T) {
	auth := &fakeAuth{
		login: loginAs(domain.User{ID: "1", Name: "Ana", Email: "a@x", CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}, "abc"),
		updateProfile: func(_ context.Context, patch map[string]any) (domain.User, error) {
			assert.Equal(t, map[string]any{"phone": "555"}, patch)
			return domain.User{ID: "1", Name: "Ana", Email: "a@x", Phone: "555"}, nil
		},
	}
	m, st := newManager(t, auth)

	assert.ErrorIs(t, m.UpdateProfile(context.Background(), map[string]any{"phone": "555"}), ErrNotAuthenticated)

	require.NoError(t, m.Login(context.Background(), Credentials{}))
	require.NoError(t, m.UpdateProfile(context.Background(), map[string]any{"phone": "555"}))

	s := m.Session()
	assert.Equal(t, "555", s.User.Phone)
	assert.Equal(t, 2024, s.User.CreatedAt.Year())
	stored := store.Get[*domain.User](context.Background(), st, userKey, nil).Value
	assert.Equal(t, "555", stored.Phone)
}

func TestUpdateProfileErrorLeavesSession(t *testing.T) {
	auth := &fakeAuth{
		login: loginAs(domain.User{ID: "1", Name: "Ana"}, "abc"),
		updateProfile: func(context.Context, map[string]any) (domain.User, error) {
			return domain.User{}, &client.Error{Kind: client.KindClient, Status: 422}
		},
	}
	m, _ := newManager(t, auth)
	require.NoError(t, m.Login(context.Background(), Credentials{}))

	assert.Error(t, m.UpdateProfile(context.Background(), map[string]any{"email": ""}))
	assert.True(t, m.Session().IsAuthenticated)
	assert.Equal(t, "Ana", m.Session().User.Name)
}

func TestRefreshProfileReplacesUser(t *testing.T) {
	auth := &fakeAuth{
		login: loginAs(domain.User{ID: "1", Name: "Ana", Phone: "1"}, "abc"),
		profile: func(context.Context) (domain.User, error) {
			return domain.User{ID: "1", Name: "Ana Server", Role: domain.RoleMechanic}, nil
		},
	}
	m, _ := newManager(t, auth)
	require.NoError(t, m.Login(context.Background(), Credentials{}))

	require.NoError(t, m.RefreshProfile(context.Background()))
	s := m.Session()
	assert.Equal(t, "Ana Server", s.User.Name)
	assert.Empty(t, s.User.Phone)
	assert.Equal(t, domain.RoleMechanic, s.User.Role)
}

func TestEventsPublishedOnTransitions(t *testing.T) {
	auth := &fakeAuth{login: loginAs(domain.User{ID: "1"}, "abc")}
	m, _ := newManager(t, auth)

	var (
		mu   sync.Mutex
		seen []events.EventType
	)
	m.Subscribe(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	})

	require.NoError(t, m.Login(context.Background(), Credentials{}))
	require.NoError(t, m.Logout(context.Background()))

	assert.Equal(t, []events.EventType{
		events.EventSessionLoading,
		events.EventSessionLoggedIn,
		events.EventSessionLoading,
		events.EventSessionLoggedOut,
	}, seen)
}

func TestStoreCredentialsReadsPersistedToken(t *testing.T) {
	st := store.New(store.NewMemoryBackend(), nil)
	creds := StoreCredentials(st, tokenKey)
	assert.Empty(t, creds.Token(context.Background()))

	st.Set(context.Background(), tokenKey, "abc")
	assert.Equal(t, "abc", creds.Token(context.Background()))
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("k"))
		require.NoError(t, err)
		return s
	}

	assert.True(t, tokenExpired(sign(now.Add(-time.Second)), now))
	assert.False(t, tokenExpired(sign(now.Add(time.Hour)), now))
	assert.False(t, tokenExpired("opaque-token", now))
}
