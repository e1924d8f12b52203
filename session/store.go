// Package session holds the process-wide authentication state of the EKmate
// portal: the bearer token, the identity resolved from it and the transient
// loading and error flags.
//
// A Store is an explicit object with a lifecycle. Create it with New, resolve
// any persisted token with Init, and release it with Close. Readers that need
// a resolved role call Await, which blocks on the store's own transition
// signal instead of guessing how long enrichment takes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekmate/portal/bearer"
	"github.com/ekmate/portal/credentials"
	"github.com/ekmate/portal/models"
	"github.com/ekmate/portal/services"
)

// SupersededMessage is returned by a Login that was overtaken by a newer
// Login or Logout before it completed.
const SupersededMessage = "Sign-in was interrupted. Please try again."

// Authenticator signs users in and fetches their profiles.
// *services.AuthClient implements it.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*services.SignInResult, error)
	FetchProfile(ctx context.Context, token string) (map[string]any, error)
}

// Store is the session state machine. It is safe for concurrent use.
type Store struct {
	tokens credentials.TokenStore
	auth   Authenticator
	logger *zap.Logger

	// ctx bounds background enrichment; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	state        State
	identity     *models.Identity
	errMsg       string
	degraded     bool
	tokenPresent bool

	// gen increments on every Init, Login and Logout; results computed for
	// an older generation are dropped
	gen uint64

	// changed is closed and replaced on every transition
	changed chan struct{}
}

// New creates a Store in the Unresolved state
func New(tokens credentials.TokenStore, auth Authenticator, logger *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		tokens:  tokens,
		auth:    auth,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateUnresolved,
		changed: make(chan struct{}),
	}
}

// Init resolves the persisted token, if any. Without a token the store
// becomes Anonymous. With a decodable token the identity is set from its
// claims at once and enriched from the backend in the background; the store
// stays Resolving until enrichment finishes. An undecodable token is deleted.
func (s *Store) Init(ctx context.Context) {
	token, err := s.tokens.Load(ctx)
	if err != nil {
		if !errors.Is(err, credentials.ErrNoToken) {
			s.logger.Warn("failed to load stored token, continuing anonymously", zap.Error(err))
		}
		s.mu.Lock()
		s.gen++
		s.tokenPresent = false
		s.setAnonymousLocked("")
		s.mu.Unlock()
		return
	}

	claims, err := bearer.Decode(token)
	if err != nil {
		s.logger.Warn("discarding malformed stored token", zap.Error(err))
		s.mu.Lock()
		s.gen++
		s.deleteTokenLocked(ctx)
		s.setAnonymousLocked("")
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.tokenPresent = true
	s.identity = models.NewIdentity(claims, nil)
	s.errMsg = ""
	s.degraded = false
	s.transitionLocked(StateResolving)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.enrich(gen, token, claims)
	}()
}

// enrich merges the backend profile into the optimistic identity
func (s *Store) enrich(gen uint64, token string, claims bearer.Claims) {
	profile, err := s.auth.FetchProfile(s.ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.logger.Debug("dropping stale profile enrichment", zap.Uint64("generation", gen))
		return
	}

	if err != nil {
		s.logger.Warn("profile enrichment failed, using token claims",
			zap.Bool("token_rejected", services.IsUnauthorizedError(err)),
			zap.Error(err))
		s.degraded = true
	} else {
		s.identity = models.NewIdentity(claims, profile)
		s.degraded = false
	}
	s.transitionLocked(StateAuthenticated)
	s.logger.Info("session resolved",
		zap.String("user_id", s.identity.ID),
		zap.String("role", string(s.identity.Role)),
		zap.Bool("degraded", s.degraded))
}

// Login signs in with the backend and, on success, persists the token and
// sets the identity. It never returns an error: a failure reverts the store
// to Anonymous with Error set and is reported through LoginResult.
func (s *Store) Login(ctx context.Context, email, password string) LoginResult {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.errMsg = ""
	s.transitionLocked(StateLoginInFlight)
	s.mu.Unlock()

	result, err := s.signIn(ctx, email, password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.logger.Info("login superseded by a newer session change")
		return LoginResult{Success: false, Message: SupersededMessage}
	}

	if err != nil {
		msg := services.UserMessage(err)
		fields := []zap.Field{zap.String("error_type", string(services.GetErrorType(err))), zap.Error(err)}
		if services.IsExternalError(err) {
			s.logger.Warn("login failed, backend unavailable", fields...)
		} else {
			s.logger.Info("login failed", fields...)
		}
		s.deleteTokenLocked(ctx)
		s.setAnonymousLocked(msg)
		return LoginResult{Success: false, Message: msg}
	}

	if err := s.tokens.Save(ctx, result.Token); err != nil {
		s.logger.Error("failed to persist token after login", zap.Error(err))
		s.deleteTokenLocked(ctx)
		s.setAnonymousLocked(services.GenericLoginMessage)
		return LoginResult{Success: false, Message: services.GenericLoginMessage}
	}

	s.tokenPresent = true
	s.identity = result.Identity
	s.degraded = result.Degraded
	s.transitionLocked(StateAuthenticated)

	s.logger.Info("login succeeded",
		zap.String("user_id", result.Identity.ID),
		zap.String("role", string(result.Identity.Role)),
		zap.Bool("degraded", result.Degraded))

	return LoginResult{Success: true, Identity: result.Identity.Clone()}
}

// signIn calls the authenticator and converts a panic or an empty result
// into an error
func (s *Store) signIn(ctx context.Context, email, password string) (result *services.SignInResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("authenticator panicked", zap.Any("panic", r))
			result, err = nil, fmt.Errorf("sign-in panicked: %v", r)
		}
	}()

	result, err = s.auth.SignIn(ctx, email, password)
	if err == nil && (result == nil || result.Identity == nil || result.Token == "") {
		err = errors.New("authenticator returned an empty result")
	}
	return result, err
}

// Logout deletes the stored token and the identity. It cannot fail; storage
// errors are logged.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.deleteTokenLocked(ctx)
	s.setAnonymousLocked("")
	s.logger.Info("logged out")
}

// IsAuthenticated reports whether a token is stored. It does not wait for
// the identity to resolve; use Await before reading the role.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenPresent
}

// Snapshot returns a copy of the current session
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		State:    s.state,
		Identity: s.identity.Clone(),
		Loading:  !s.state.Settled(),
		Error:    s.errMsg,
		Degraded: s.degraded,
	}
}

// Await blocks until the store reaches a settled state or ctx ends, then
// returns the snapshot at that moment. The error is ctx.Err() when ctx ended
// first.
func (s *Store) Await(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.RLock()
		settled := s.state.Settled()
		changed := s.changed
		s.mu.RUnlock()

		if settled {
			return s.Snapshot(), nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// Close cancels background enrichment and waits for it to stop
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

// Ping reports whether the token store is reachable, when it supports that
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.tokens.(credentials.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Store) deleteTokenLocked(ctx context.Context) {
	if err := s.tokens.Delete(ctx); err != nil {
		s.logger.Warn("failed to delete stored token", zap.Error(err))
	}
	s.tokenPresent = false
}

func (s *Store) setAnonymousLocked(errMsg string) {
	s.identity = nil
	s.degraded = false
	s.errMsg = errMsg
	s.transitionLocked(StateAnonymous)
}

func (s *Store) transitionLocked(next State) {
	if s.state != next {
		s.logger.Debug("session transition",
			zap.Stringer("from", s.state),
			zap.Stringer("to", next))
	}
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})
}
