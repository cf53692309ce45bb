// Package session persists the signed-in user and their bearer token
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"smartswipe/syncclient/internal/store"
	"smartswipe/syncclient/logger"
	clienterrors "smartswipe/syncclient/pkg/errors"
	"smartswipe/syncclient/services/api"
	"smartswipe/syncclient/services/cache"
)

// Fixed keys of the durable backend
const (
	UserKey  = "user"
	TokenKey = "token"
)

// Authenticator is the part of the backend client the session needs
type Authenticator interface {
	Signup(ctx context.Context, data api.SignupData) (api.AuthResponse, error)
	Login(ctx context.Context, data api.LoginData) (api.AuthResponse, error)
	UpdateProfile(ctx context.Context, userID string, update api.ProfileUpdate) error
}

// Session holds the current credentials. It implements api.TokenSource.
type Session struct {
	backend cache.CacheService
	auth    Authenticator
	store   *store.Store
	log     *logger.Logger

	mu    sync.RWMutex
	user  *api.User
	token string
}

// New creates a session over backend. st may be nil; when set, Logout
// clears the user's cached resources from it.
func New(backend cache.CacheService, auth Authenticator, st *store.Store) *Session {
	return &Session{
		backend: backend,
		auth:    auth,
		store:   st,
		log:     logger.ForSession(),
	}
}

// Restore loads a previously saved session. An unreadable user record
// removes both keys.
func (s *Session) Restore() (api.User, bool) {
	rawUser, userErr := s.backend.Get(UserKey)
	rawToken, tokenErr := s.backend.Get(TokenKey)
	if errors.Is(userErr, cache.ErrCacheMiss) || errors.Is(tokenErr, cache.ErrCacheMiss) {
		return api.User{}, false
	}
	if userErr != nil || tokenErr != nil {
		s.log.Warn().Err(errors.Join(userErr, tokenErr)).Msg("Failed to read saved session")
		return api.User{}, false
	}

	var user api.User
	if err := json.Unmarshal(rawUser, &user); err != nil || user.ID == "" || len(rawToken) == 0 {
		s.log.Warn().Err(clienterrors.NewCacheCorrupt(UserKey, err)).Msg("Discarding saved session")
		s.forget()
		return api.User{}, false
	}

	s.mu.Lock()
	s.user = &user
	s.token = string(rawToken)
	s.mu.Unlock()

	s.log.Debug().Str("user_id", user.ID).Msg("Session restored")
	return user, true
}

// Login authenticates and saves the session
func (s *Session) Login(ctx context.Context, email, password string) (api.User, error) {
	if email == "" || password == "" {
		return api.User{}, clienterrors.NewValidation("Login", "email and password are required")
	}
	resp, err := s.auth.Login(ctx, api.LoginData{Email: email, Password: password})
	if err != nil {
		return api.User{}, err
	}
	return s.save(resp)
}

// Signup creates an account and saves the session
func (s *Session) Signup(ctx context.Context, email, password, name string) (api.User, error) {
	if email == "" || password == "" {
		return api.User{}, clienterrors.NewValidation("Signup", "email and password are required")
	}
	resp, err := s.auth.Signup(ctx, api.SignupData{Email: email, Password: password, Name: name})
	if err != nil {
		return api.User{}, err
	}
	return s.save(resp)
}

// Logout forgets the credentials and the user's cached resources
func (s *Session) Logout() error {
	s.mu.Lock()
	user := s.user
	s.user = nil
	s.token = ""
	s.mu.Unlock()

	err := s.forget()
	if user != nil && s.store != nil {
		err = errors.Join(err, s.store.ClearUser(user.ID, store.UserKinds...))
	}
	return err
}

// UpdateProfile changes the user's profile and merges the change locally
func (s *Session) UpdateProfile(ctx context.Context, update api.ProfileUpdate) (api.User, error) {
	current, ok := s.User()
	if !ok {
		return api.User{}, clienterrors.NewValidation("UpdateProfile", "not signed in")
	}
	if err := s.auth.UpdateProfile(ctx, current.ID, update); err != nil {
		return current, err
	}

	if update.Name != "" {
		current.Name = update.Name
	}
	if update.Email != "" {
		current.Email = update.Email
	}

	s.mu.Lock()
	s.user = &current
	s.mu.Unlock()

	if err := s.writeUser(current); err != nil {
		return current, err
	}
	return current, nil
}

// User returns the signed-in user
func (s *Session) User() (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return api.User{}, false
	}
	return *s.user, true
}

// Token returns the bearer token, empty when signed out
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) save(resp api.AuthResponse) (api.User, error) {
	if resp.User.ID == "" || resp.Session.AccessToken == "" {
		return api.User{}, clienterrors.NewValidation("Login", "backend returned no user or token")
	}

	if err := s.writeUser(resp.User); err != nil {
		return api.User{}, err
	}
	if err := s.backend.Set(TokenKey, []byte(resp.Session.AccessToken), 0); err != nil {
		return api.User{}, fmt.Errorf("failed to save token: %w", err)
	}

	user := resp.User
	s.mu.Lock()
	s.user = &user
	s.token = resp.Session.AccessToken
	s.mu.Unlock()

	s.log.Info().Str("user_id", user.ID).Msg("Signed in")
	return user, nil
}

func (s *Session) writeUser(user api.User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.backend.Set(UserKey, payload, 0); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Session) forget() error {
	return errors.Join(s.backend.Delete(UserKey), s.backend.Delete(TokenKey))
}
