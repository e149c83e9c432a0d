package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/api/dto"
	"github.com/spec-kit/garage-core/internal/client"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/domain"
	"github.com/spec-kit/garage-core/internal/events"
	"github.com/spec-kit/garage-core/internal/store"
)

var (
	// ErrSuperseded is returned by an operation whose result was discarded
	// because a later Login, Register, Restore or Logout started while it
	// was in flight.
	ErrSuperseded = errors.New("session operation superseded")
	// ErrNotAuthenticated is returned by operations that need a logged-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// User-visible messages for failed login and registration.
const (
	MessageInvalidCredentials = "invalid credentials"
	MessageServerError        = "server error"
	MessageSaveFailed         = "could not save session"
)

// Credentials are the login inputs.
type Credentials = dto.LoginRequest

// Registration is the account-creation input.
type Registration = dto.RegisterRequest

// Authenticator is the set of /auth operations the manager depends on.
// *authapi.API implements it.
type Authenticator interface {
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
	Logout(ctx context.Context, token string) error
	ValidateToken(ctx context.Context) (bool, error)
	Profile(ctx context.Context) (domain.User, error)
	UpdateProfile(ctx context.Context, patch map[string]any) (domain.User, error)
}

// Dependencies bundles what a Manager needs.
type Dependencies struct {
	Auth       Authenticator
	Store      *store.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
}

// Manager is the single source of truth for who is logged in. It is safe for
// concurrent use.
//
// Every Login, Register, Restore and Logout bumps a generation counter when
// it starts. When it finishes it commits only if the counter still holds its
// own value, so the most recently started operation decides the final state
// and stale results never reach the store.
type Manager struct {
	auth       Authenticator
	store      *store.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
	tokenKey   string
	userKey    string

	mu         sync.Mutex
	session    Session
	generation uint64
}

// NewManager builds a manager in the INITIALIZING state.
func NewManager(cfg config.SessionConfig, deps Dependencies) *Manager {
	m := &Manager{
		auth:       deps.Auth,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Now,
		tokenKey:   cfg.TokenKey,
		userKey:    cfg.UserKey,
		session:    Initial(),
	}
	if m.dispatcher == nil {
		m.dispatcher = events.NewInMemoryDispatcher()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.tokenKey == "" {
		m.tokenKey = "auth_token"
	}
	if m.userKey == "" {
		m.userKey = "user_data"
	}
	return m
}

// Session returns a snapshot of the current state.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Subscribe registers handler for every session event.
func (m *Manager) Subscribe(handler events.EventHandler) {
	m.dispatcher.SubscribeAll(handler)
}

// Restore reconciles the persisted session with the server. It never
// surfaces validation failures: any problem ends in a clean UNAUTHENTICATED
// state with both persisted keys removed. The only errors returned are
// ErrSuperseded and the caller's context error.
func (m *Manager) Restore(ctx context.Context) error {
	gen := m.begin(ctx)

	token := store.Get(ctx, m.store, m.tokenKey, "").Value
	user := store.Get[*domain.User](ctx, m.store, m.userKey, nil).Value
	if token == "" || user == nil {
		return m.commit(ctx, gen, events.EventSessionRestored, Unauthenticated{}, func(ctx context.Context) error {
			m.purge(ctx)
			return nil
		})
	}

	valid, err := m.validate(ctx, token)
	if err != nil && ctx.Err() != nil {
		if cerr := m.commit(ctx, gen, events.EventSessionRestored, Unauthenticated{}, nil); cerr != nil {
			return cerr
		}
		return ctx.Err()
	}
	if err != nil || !valid {
		m.logger.Info("persisted session rejected", zap.Bool("valid", valid), zap.Error(err))
		return m.commit(ctx, gen, events.EventSessionRestored, Unauthenticated{}, func(ctx context.Context) error {
			m.purge(ctx)
			return nil
		})
	}

	return m.commit(ctx, gen, events.EventSessionRestored, Authenticated{User: *user, Token: token}, nil)
}

func (m *Manager) validate(ctx context.Context, token string) (bool, error) {
	if tokenExpired(token, m.now()) {
		return false, nil
	}
	return m.auth.ValidateToken(ctx)
}

// Login authenticates with credentials and persists the resulting session.
// On failure the session is reset, Error holds a user-visible message, and
// the underlying error is returned.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	gen := m.begin(ctx)
	resp, err := m.auth.Login(ctx, creds)
	return m.finishAuth(ctx, gen, resp, err)
}

// Register creates an account and logs into it, with the same persistence
// and error contract as Login.
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	gen := m.begin(ctx)
	resp, err := m.auth.Register(ctx, reg)
	return m.finishAuth(ctx, gen, resp, err)
}

func (m *Manager) finishAuth(ctx context.Context, gen uint64, resp dto.AuthResponse, err error) error {
	if err != nil {
		msg := failureMessage(err)
		m.logger.Info("authentication failed", zap.String("message", msg), zap.Error(err))
		if cerr := m.commit(ctx, gen, events.EventSessionFailed, Unauthenticated{Message: msg}, func(ctx context.Context) error {
			m.purge(ctx)
			return nil
		}); cerr != nil {
			return cerr
		}
		return err
	}

	var saveErr error
	commitErr := m.commit(ctx, gen, events.EventSessionLoggedIn, Authenticated{User: resp.User, Token: resp.Token}, func(ctx context.Context) error {
		res := m.store.SetMultiple(ctx, map[string]any{
			m.tokenKey: resp.Token,
			m.userKey:  resp.User,
		})
		if !res.OK() {
			m.purge(ctx)
			saveErr = res.Err
			return res.Err
		}
		return nil
	})
	if errors.Is(commitErr, ErrSuperseded) {
		return commitErr
	}
	if saveErr != nil {
		m.apply(gen, events.EventSessionFailed, Unauthenticated{Message: MessageSaveFailed})
		return fmt.Errorf("persist session: %w", saveErr)
	}
	return commitErr
}

// Logout ends the session. The server is told on a best-effort basis; the
// local session is always torn down and Logout never fails.
func (m *Manager) Logout(ctx context.Context) error {
	gen := m.begin(ctx)

	token := m.Session().Token
	if token == "" {
		token = store.Get(ctx, m.store, m.tokenKey, "").Value
	}
	if token != "" {
		if err := m.auth.Logout(ctx, token); err != nil {
			m.logger.Warn("server logout failed", zap.Error(err))
		}
	}

	err := m.commit(context.WithoutCancel(ctx), gen, events.EventSessionLoggedOut, Unauthenticated{}, func(ctx context.Context) error {
		m.purge(ctx)
		return nil
	})
	if errors.Is(err, ErrSuperseded) {
		m.logger.Debug("logout superseded by a newer session operation")
	}
	return nil
}

// UpdateUser shallow-merges patch into the current user and persists the
// result. A failed write is logged; the in-memory user is updated either way.
func (m *Manager) UpdateUser(ctx context.Context, patch map[string]any) error {
	m.mu.Lock()
	if m.session.User == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	merged, err := m.session.User.Merge(patch)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("merge user: %w", err)
	}
	m.session = Transition(m.session, UserReplaced{User: merged})
	if res := m.store.Set(ctx, m.userKey, merged); !res.OK() {
		m.logger.Warn("failed to persist user", zap.Error(res.Err))
	}
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.publish(ctx, events.EventSessionUserUpdated, snapshot)
	return nil
}

// UpdateProfile sends patch to the server and merges the stored profile it
// returns into the session.
func (m *Manager) UpdateProfile(ctx context.Context, patch map[string]any) error {
	gen, err := m.current()
	if err != nil {
		return err
	}
	user, err := m.auth.UpdateProfile(ctx, patch)
	if err != nil {
		return err
	}
	return m.replaceUser(ctx, gen, user, true)
}

// RefreshProfile reloads the user from the server.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	gen, err := m.current()
	if err != nil {
		return err
	}
	user, err := m.auth.Profile(ctx)
	if err != nil {
		return err
	}
	return m.replaceUser(ctx, gen, user, false)
}

func (m *Manager) replaceUser(ctx context.Context, gen uint64, user domain.User, merge bool) error {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if merge && m.session.User != nil {
		fields, err := userPatch(user)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if user, err = m.session.User.Merge(fields); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("merge user: %w", err)
		}
	}
	m.session = Transition(m.session, UserReplaced{User: user})
	if res := m.store.Set(ctx, m.userKey, user); !res.OK() {
		m.logger.Warn("failed to persist user", zap.Error(res.Err))
	}
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.publish(ctx, events.EventSessionUserUpdated, snapshot)
	return nil
}

// ClearError drops the user-visible error and changes nothing else.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.session = Transition(m.session, ErrorCleared{})
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.publish(context.Background(), events.EventSessionErrorClear, snapshot)
}

// begin starts a session-changing operation and returns its generation.
func (m *Manager) begin(ctx context.Context) uint64 {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.session = Transition(m.session, LoadingStarted{})
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.publish(ctx, events.EventSessionLoading, snapshot)
	return gen
}

// current returns the live generation for operations that require a user
// but do not compete for the session.
func (m *Manager) current() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.IsAuthenticated {
		return 0, ErrNotAuthenticated
	}
	return m.generation, nil
}

// commit applies e if gen is still current. persist runs under the same
// lock before the transition; if it fails the transition is skipped and its
// error returned.
func (m *Manager) commit(ctx context.Context, gen uint64, eventType events.EventType, e Event, persist func(context.Context) error) error {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if persist != nil {
		if err := persist(ctx); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.session = Transition(m.session, e)
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.publish(ctx, eventType, snapshot)
	return nil
}

// apply transitions unconditionally when gen is still current.
func (m *Manager) apply(gen uint64, eventType events.EventType, e Event) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.session = Transition(m.session, e)
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.publish(context.Background(), eventType, snapshot)
}

// purge removes both persisted keys. Callers hold m.mu.
func (m *Manager) purge(ctx context.Context) {
	if res := m.store.RemoveMultiple(ctx, []string{m.tokenKey, m.userKey}); !res.OK() {
		m.logger.Warn("failed to remove persisted session", zap.Error(res.Err))
	}
}

func (m *Manager) publish(ctx context.Context, eventType events.EventType, s Session) {
	userID := ""
	if s.User != nil {
		userID = s.User.ID
	}
	payload := events.SessionChangedPayload{
		State:           string(s.State),
		IsAuthenticated: s.IsAuthenticated,
		IsLoading:       s.IsLoading,
		Error:           s.Error,
	}
	if err := m.dispatcher.Publish(ctx, events.NewEvent(eventType, userID, payload)); err != nil {
		m.logger.Warn("session event handler failed", zap.String("event", string(eventType)), zap.Error(err))
	}
}

// userPatch turns a server profile into merge fields. Zero timestamps are
// left out so they do not overwrite known ones.
func userPatch(u domain.User) (map[string]any, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if u.CreatedAt.IsZero() {
		delete(fields, "createdAt")
	}
	if u.UpdatedAt.IsZero() {
		delete(fields, "updatedAt")
	}
	return fields, nil
}

// failureMessage maps an authentication error to the text shown to users.
func failureMessage(err error) string {
	switch client.KindOf(err) {
	case client.KindAuth:
		return MessageInvalidCredentials
	case client.KindServer:
		return MessageServerError
	}
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
