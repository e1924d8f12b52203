package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekmate/portal/credentials"
	"github.com/ekmate/portal/models"
	"github.com/ekmate/portal/services"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) SignIn(ctx context.Context, email, password string) (*services.SignInResult, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SignInResult), args.Error(1)
}

func (m *MockAuthenticator) FetchProfile(ctx context.Context, token string) (map[string]any, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// failingStore saves nothing
type failingStore struct {
	credentials.MemoryStore
}

func (f *failingStore) Save(_ context.Context, _ string) error {
	return errors.New("disk full")
}

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return tokenString
}

func awaitSettled(t *testing.T, s *Store) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.Await(ctx)
	require.NoError(t, err)
	return snap
}

func newStore(t *testing.T, tokens credentials.TokenStore, auth Authenticator) *Store {
	t.Helper()
	s := New(tokens, auth, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func TestStore_InitialState(t *testing.T) {
	s := newStore(t, credentials.NewMemoryStore(""), new(MockAuthenticator))

	snap := s.Snapshot()
	assert.Equal(t, StateUnresolved, snap.State)
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.Identity)
	assert.False(t, s.IsAuthenticated())
}

func TestStore_Init(t *testing.T) {
	t.Run("no token resolves anonymous", func(t *testing.T) {
		auth := new(MockAuthenticator)
		s := newStore(t, credentials.NewMemoryStore(""), auth)

		s.Init(context.Background())

		snap := s.Snapshot()
		assert.Equal(t, StateAnonymous, snap.State)
		assert.False(t, snap.Loading)
		assert.Nil(t, snap.Identity)
		assert.False(t, s.IsAuthenticated())
		auth.AssertNotCalled(t, "FetchProfile", mock.Anything, mock.Anything)
	})

	t.Run("malformed token is discarded", func(t *testing.T) {
		tokens := credentials.NewMemoryStore("garbage")
		auth := new(MockAuthenticator)
		s := newStore(t, tokens, auth)

		s.Init(context.Background())

		snap := s.Snapshot()
		assert.Equal(t, StateAnonymous, snap.State)
		assert.Nil(t, snap.Identity)
		assert.False(t, s.IsAuthenticated())

		_, err := tokens.Load(context.Background())
		assert.ErrorIs(t, err, credentials.ErrNoToken)
		auth.AssertNotCalled(t, "FetchProfile", mock.Anything, mock.Anything)
	})

	t.Run("claims identity is set before enrichment completes", func(t *testing.T) {
		token := mintToken(t, jwt.MapClaims{"id": "u1", "email": "rider@ekmate.edu"})
		release := make(chan struct{})

		auth := new(MockAuthenticator)
		auth.On("FetchProfile", mock.Anything, token).
			Run(func(mock.Arguments) { <-release }).
			Return(map[string]any{"role": "admin", "name": "Ada"}, nil)

		s := newStore(t, credentials.NewMemoryStore(token), auth)
		s.Init(context.Background())

		snap := s.Snapshot()
		assert.Equal(t, StateResolving, snap.State)
		assert.True(t, snap.Loading)
		require.NotNil(t, snap.Identity)
		assert.Equal(t, "u1", snap.Identity.ID)
		assert.Equal(t, models.RoleStudent, snap.Identity.Role)
		assert.True(t, s.IsAuthenticated())

		close(release)

		snap = awaitSettled(t, s)
		assert.Equal(t, StateAuthenticated, snap.State)
		assert.False(t, snap.Loading)
		assert.False(t, snap.Degraded)
		assert.Equal(t, models.RoleAdmin, snap.Identity.Role)
		assert.Equal(t, "Ada", snap.Identity.Name)
		assert.Equal(t, "rider@ekmate.edu", snap.Identity.Email)
		auth.AssertExpectations(t)
	})

	t.Run("enrichment failure degrades to claims", func(t *testing.T) {
		token := mintToken(t, jwt.MapClaims{"id": "u2", "role": "admin"})

		auth := new(MockAuthenticator)
		auth.On("FetchProfile", mock.Anything, token).
			Return(nil, services.NewDomainError(services.ErrorTypeExternal, "Profile unavailable", errors.New("timeout")))

		s := newStore(t, credentials.NewMemoryStore(token), auth)
		s.Init(context.Background())

		snap := awaitSettled(t, s)
		assert.Equal(t, StateAuthenticated, snap.State)
		assert.True(t, snap.Degraded)
		assert.Empty(t, snap.Error)
		require.NotNil(t, snap.Identity)
		assert.Equal(t, "u2", snap.Identity.ID)
		assert.Equal(t, models.RoleAdmin, snap.Identity.Role)
		assert.True(t, s.IsAuthenticated())
	})
}

func TestStore_Login(t *testing.T) {
	t.Run("success stores token and identity", func(t *testing.T) {
		tokens := credentials.NewMemoryStore("")
		identity := models.NewIdentity(map[string]any{"id": "u1", "email": "a@ekmate.edu"}, nil)

		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, "a@ekmate.edu", "pw").
			Return(&services.SignInResult{Token: "tok", Kind: services.PayloadToken, Identity: identity}, nil)

		s := newStore(t, tokens, auth)
		s.Init(context.Background())

		result := s.Login(context.Background(), "a@ekmate.edu", "pw")

		assert.True(t, result.Success)
		assert.Empty(t, result.Message)
		require.NotNil(t, result.Identity)
		assert.Equal(t, "u1", result.Identity.ID)

		assert.True(t, s.IsAuthenticated())
		stored, err := tokens.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", stored)

		snap := s.Snapshot()
		assert.Equal(t, StateAuthenticated, snap.State)
		assert.False(t, snap.Loading)
		assert.Empty(t, snap.Error)
		auth.AssertExpectations(t)
	})

	t.Run("degraded result is reported", func(t *testing.T) {
		identity := models.NewIdentity(map[string]any{"id": "u1"}, nil)
		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.SignInResult{Token: "tok", Identity: identity, Degraded: true}, nil)

		s := newStore(t, credentials.NewMemoryStore(""), auth)
		require.True(t, s.Login(context.Background(), "a@ekmate.edu", "pw").Success)

		assert.True(t, s.Snapshot().Degraded)
	})

	failures := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{
			name:        "backend message is surfaced",
			err:         services.NewDomainError(services.ErrorTypeUnauthorized, "Invalid email or password", nil),
			wantMessage: "Invalid email or password",
		},
		{
			name:        "plain error gets the generic message",
			err:         errors.New("connection refused"),
			wantMessage: services.GenericLoginMessage,
		},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			tokens := credentials.NewMemoryStore("")
			auth := new(MockAuthenticator)
			auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			s := newStore(t, tokens, auth)
			s.Init(context.Background())

			result := s.Login(context.Background(), "a@ekmate.edu", "wrong")

			assert.False(t, result.Success)
			assert.Equal(t, tt.wantMessage, result.Message)
			assert.Nil(t, result.Identity)

			snap := s.Snapshot()
			assert.Equal(t, StateAnonymous, snap.State)
			assert.Equal(t, tt.wantMessage, snap.Error)
			assert.Nil(t, snap.Identity)
			assert.False(t, s.IsAuthenticated())

			_, err := tokens.Load(context.Background())
			assert.ErrorIs(t, err, credentials.ErrNoToken)
		})
	}

	t.Run("error is cleared by the next attempt", func(t *testing.T) {
		identity := models.NewIdentity(map[string]any{"id": "u1"}, nil)
		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, mock.Anything, "wrong").Return(nil, errors.New("nope")).Once()
		auth.On("SignIn", mock.Anything, mock.Anything, "right").
			Return(&services.SignInResult{Token: "tok", Identity: identity}, nil).Once()

		s := newStore(t, credentials.NewMemoryStore(""), auth)
		assert.False(t, s.Login(context.Background(), "a@ekmate.edu", "wrong").Success)
		assert.NotEmpty(t, s.Snapshot().Error)

		assert.True(t, s.Login(context.Background(), "a@ekmate.edu", "right").Success)
		assert.Empty(t, s.Snapshot().Error)
	})

	t.Run("token persistence failure fails the login", func(t *testing.T) {
		identity := models.NewIdentity(map[string]any{"id": "u1"}, nil)
		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.SignInResult{Token: "tok", Identity: identity}, nil)

		s := newStore(t, &failingStore{}, auth)
		result := s.Login(context.Background(), "a@ekmate.edu", "pw")

		assert.False(t, result.Success)
		assert.Equal(t, services.GenericLoginMessage, result.Message)
		assert.False(t, s.IsAuthenticated())
		assert.Equal(t, StateAnonymous, s.Snapshot().State)
	})

	t.Run("panicking authenticator does not escape", func(t *testing.T) {
		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { panic("boom") })

		s := newStore(t, credentials.NewMemoryStore(""), auth)

		var result LoginResult
		assert.NotPanics(t, func() {
			result = s.Login(context.Background(), "a@ekmate.edu", "pw")
		})
		assert.False(t, result.Success)
		assert.Equal(t, services.GenericLoginMessage, result.Message)
		assert.Equal(t, StateAnonymous, s.Snapshot().State)
	})

	t.Run("empty result is a failure", func(t *testing.T) {
		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
			Return(&services.SignInResult{}, nil)

		s := newStore(t, credentials.NewMemoryStore(""), auth)
		result := s.Login(context.Background(), "a@ekmate.edu", "pw")

		assert.False(t, result.Success)
		assert.False(t, s.IsAuthenticated())
	})

	t.Run("loading while in flight", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		identity := models.NewIdentity(map[string]any{"id": "u1"}, nil)

		auth := new(MockAuthenticator)
		auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(entered)
				<-release
			}).
			Return(&services.SignInResult{Token: "tok", Identity: identity}, nil)

		s := newStore(t, credentials.NewMemoryStore(""), auth)
		s.Init(context.Background())

		done := make(chan LoginResult, 1)
		go func() { done <- s.Login(context.Background(), "a@ekmate.edu", "pw") }()
		<-entered

		snap := s.Snapshot()
		assert.Equal(t, StateLoginInFlight, snap.State)
		assert.True(t, snap.Loading)

		close(release)
		snap = awaitSettled(t, s)
		assert.Equal(t, StateAuthenticated, snap.State)
		assert.True(t, (<-done).Success)
	})
}

func TestStore_Logout(t *testing.T) {
	identity := models.NewIdentity(map[string]any{"id": "u1"}, nil)
	tokens := credentials.NewMemoryStore("")
	auth := new(MockAuthenticator)
	auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
		Return(&services.SignInResult{Token: "tok", Identity: identity}, nil)

	s := newStore(t, tokens, auth)
	require.True(t, s.Login(context.Background(), "a@ekmate.edu", "pw").Success)
	require.True(t, s.IsAuthenticated())

	s.Logout(context.Background())

	assert.False(t, s.IsAuthenticated())
	snap := s.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.Identity)
	assert.Empty(t, snap.Error)

	_, err := tokens.Load(context.Background())
	assert.ErrorIs(t, err, credentials.ErrNoToken)

	// idempotent
	s.Logout(context.Background())
	assert.False(t, s.IsAuthenticated())
}

func TestStore_LogoutDropsStaleEnrichment(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"id": "u1"})
	release := make(chan struct{})
	fetched := make(chan struct{})

	auth := new(MockAuthenticator)
	auth.On("FetchProfile", mock.Anything, token).
		Run(func(mock.Arguments) {
			<-release
			close(fetched)
		}).
		Return(map[string]any{"role": "admin"}, nil)

	s := newStore(t, credentials.NewMemoryStore(token), auth)
	s.Init(context.Background())
	s.Logout(context.Background())

	close(release)
	<-fetched
	// Close waits for the enrichment goroutine to finish applying its result
	s.Close()

	snap := s.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.Identity)
	assert.False(t, s.IsAuthenticated())
}

func TestStore_LoginSupersededByLogout(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	identity := models.NewIdentity(map[string]any{"id": "u1"}, nil)
	tokens := credentials.NewMemoryStore("")

	auth := new(MockAuthenticator)
	auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&services.SignInResult{Token: "tok", Identity: identity}, nil)

	s := newStore(t, tokens, auth)

	done := make(chan LoginResult, 1)
	go func() { done <- s.Login(context.Background(), "a@ekmate.edu", "pw") }()
	<-entered

	s.Logout(context.Background())
	close(release)

	result := <-done
	assert.False(t, result.Success)
	assert.Equal(t, SupersededMessage, result.Message)
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.Snapshot().Identity)

	_, err := tokens.Load(context.Background())
	assert.ErrorIs(t, err, credentials.ErrNoToken)
}

func TestStore_Await(t *testing.T) {
	t.Run("returns context error while resolving", func(t *testing.T) {
		token := mintToken(t, jwt.MapClaims{"id": "u1"})
		release := make(chan struct{})
		defer close(release)

		auth := new(MockAuthenticator)
		auth.On("FetchProfile", mock.Anything, token).
			Run(func(mock.Arguments) { <-release }).
			Return(map[string]any{}, nil)

		s := New(credentials.NewMemoryStore(token), auth, zap.NewNop())
		s.Init(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		snap, err := s.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, StateResolving, snap.State)
		assert.True(t, snap.Loading)
	})

	t.Run("wakes every waiter on resolution", func(t *testing.T) {
		token := mintToken(t, jwt.MapClaims{"id": "u1"})
		release := make(chan struct{})

		auth := new(MockAuthenticator)
		auth.On("FetchProfile", mock.Anything, token).
			Run(func(mock.Arguments) { <-release }).
			Return(map[string]any{"role": "admin"}, nil)

		s := newStore(t, credentials.NewMemoryStore(token), auth)
		s.Init(context.Background())

		var wg sync.WaitGroup
		roles := make(chan models.Role, 5)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snap, err := s.Await(context.Background())
				if err == nil && snap.Identity != nil {
					roles <- snap.Identity.Role
				}
			}()
		}

		close(release)
		wg.Wait()
		close(roles)

		count := 0
		for role := range roles {
			assert.Equal(t, models.RoleAdmin, role)
			count++
		}
		assert.Equal(t, 5, count)
	})
}

func TestStore_CloseCancelsEnrichment(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"id": "u1"})

	auth := new(MockAuthenticator)
	auth.On("FetchProfile", mock.Anything, token).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	s := New(credentials.NewMemoryStore(token), auth, zap.NewNop())
	s.Init(context.Background())

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel enrichment")
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	identity := models.NewIdentity(map[string]any{"id": "u1", "route": "R4"}, nil)
	auth := new(MockAuthenticator)
	auth.On("SignIn", mock.Anything, mock.Anything, mock.Anything).
		Return(&services.SignInResult{Token: "tok", Identity: identity}, nil)

	s := newStore(t, credentials.NewMemoryStore(""), auth)
	require.True(t, s.Login(context.Background(), "a@ekmate.edu", "pw").Success)

	snap := s.Snapshot()
	snap.Identity.Role = models.RoleAdmin
	snap.Identity.Attributes["route"] = "R9"

	fresh := s.Snapshot()
	assert.Equal(t, models.RoleStudent, fresh.Identity.Role)
	assert.Equal(t, "R4", fresh.Identity.Attributes["route"])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "resolving", StateResolving.String())
	assert.Equal(t, "login_in_flight", StateLoginInFlight.String())
	assert.Equal(t, "state(42)", State(42).String())

	text, err := StateAuthenticated.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "authenticated", string(text))
}
