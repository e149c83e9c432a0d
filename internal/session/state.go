// Package session owns the authentication state of the app: who is logged
// in, with which token, and whether that pair is still accepted by the
// server.
package session

import (
	"encoding/json"

	"github.com/spec-kit/garage-core/internal/domain"
)

// State is the coarse position of the session state machine.
type State string

const (
	StateInitializing    State = "INITIALIZING"
	StateAuthenticated   State = "AUTHENTICATED"
	StateUnauthenticated State = "UNAUTHENTICATED"
)

// Session is a snapshot of the authentication state. IsAuthenticated is true
// exactly when both User and Token are set.
type Session struct {
	State           State
	User            *domain.User
	Token           string
	IsAuthenticated bool
	IsLoading       bool
	Error           string
}

// Initial is the session before Restore has run.
func Initial() Session {
	return Session{State: StateInitializing, IsLoading: true}
}

// Event drives a Transition.
type Event interface {
	isEvent()
}

// LoadingStarted marks the start of a network-bound operation.
type LoadingStarted struct{}

// Authenticated installs a user and token, after restore, login or register.
type Authenticated struct {
	User  domain.User
	Token string
}

// Unauthenticated resets the session. Message, when set, becomes the
// user-visible error.
type Unauthenticated struct {
	Message string
}

// UserReplaced swaps the in-memory user without touching the token.
type UserReplaced struct {
	User domain.User
}

// ErrorCleared drops the user-visible error.
type ErrorCleared struct{}

func (LoadingStarted) isEvent()  {}
func (Authenticated) isEvent()   {}
func (Unauthenticated) isEvent() {}
func (UserReplaced) isEvent()    {}
func (ErrorCleared) isEvent()    {}

// Transition returns the session that results from applying e to s. It has
// no side effects.
func Transition(s Session, e Event) Session {
	switch e := e.(type) {
	case LoadingStarted:
		s.IsLoading = true
		s.Error = ""
	case Authenticated:
		user := cloneUser(e.User)
		s = Session{State: StateAuthenticated, User: &user, Token: e.Token}
	case Unauthenticated:
		s = Session{State: StateUnauthenticated, Error: e.Message}
	case UserReplaced:
		user := cloneUser(e.User)
		s.User = &user
	case ErrorCleared:
		s.Error = ""
	default:
		return s
	}
	s.IsAuthenticated = s.User != nil && s.Token != ""
	if s.State == StateAuthenticated && !s.IsAuthenticated {
		s.State = StateUnauthenticated
	}
	return s
}

// Clone returns a copy of s that shares no mutable state with it.
func (s Session) Clone() Session {
	if s.User != nil {
		user := cloneUser(*s.User)
		s.User = &user
	}
	return s
}

func cloneUser(u domain.User) domain.User {
	if u.Extra != nil {
		extra := make(map[string]json.RawMessage, len(u.Extra))
		for k, v := range u.Extra {
			extra[k] = append(json.RawMessage(nil), v...)
		}
		u.Extra = extra
	}
	return u
}
