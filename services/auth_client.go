package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekmate/portal/bearer"
	"github.com/ekmate/portal/config"
	"github.com/ekmate/portal/models"
	"github.com/ekmate/portal/utils"
)

const (
	signInPath  = "/auth/sign-in"
	profilePath = "/users/me"

	// maxResponseBytes caps how much of a backend response is read
	maxResponseBytes = 1 << 20
)

// SignInRequest is the body of POST /auth/sign-in
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Envelope is the response wrapper used by every EKmate backend endpoint
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// PayloadKind tags the sign-in payload shapes the backend has used over time
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	// PayloadToken: data is the bearer token string itself
	PayloadToken
	// PayloadSession: data is {"token": "...", "user": {...}}
	PayloadSession
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadToken:
		return "token"
	case PayloadSession:
		return "session"
	default:
		return "unknown"
	}
}

// SignInPayload is the decoded data field of a sign-in response
type SignInPayload struct {
	Kind  PayloadKind
	Token string
	User  map[string]any
}

// UnmarshalJSON accepts exactly the two known payload shapes and fails closed
// on anything else.
func (p *SignInPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnknownPayloadShape)
	}

	switch trimmed[0] {
	case '"':
		var token string
		if err := json.Unmarshal(trimmed, &token); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownPayloadShape, err)
		}
		if token == "" {
			return fmt.Errorf("%w: empty token string", ErrUnknownPayloadShape)
		}
		*p = SignInPayload{Kind: PayloadToken, Token: token}
		return nil

	case '{':
		var session struct {
			Token *string        `json:"token"`
			User  map[string]any `json:"user"`
		}
		if err := json.Unmarshal(trimmed, &session); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownPayloadShape, err)
		}
		if session.Token == nil || *session.Token == "" {
			return fmt.Errorf("%w: object without token", ErrUnknownPayloadShape)
		}
		*p = SignInPayload{Kind: PayloadSession, Token: *session.Token, User: session.User}
		return nil

	default:
		return fmt.Errorf("%w: unexpected %q", ErrUnknownPayloadShape, string(trimmed[0]))
	}
}

// SignInResult is a successful sign-in
type SignInResult struct {
	Token    string
	Kind     PayloadKind
	Identity *models.Identity

	// Degraded is true when the profile round-trip failed and Identity was
	// built from the token claims (and any user object in the payload).
	Degraded bool
}

// AuthClient talks to the EKmate backend's auth and profile endpoints
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAuthClient creates a new auth client
func NewAuthClient(cfg config.BackendConfig, logger *zap.Logger) *AuthClient {
	return &AuthClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// SignIn posts credentials to the backend, then fetches the canonical
// profile. A failed profile fetch does not fail the sign-in.
func (c *AuthClient) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	req := SignInRequest{Email: strings.TrimSpace(email), Password: password}
	if err := utils.ValidateStruct(req); err != nil {
		domainErr := NewDomainError(ErrorTypeValidation, "Please enter a valid email and password.", err)
		var validationErr *utils.ValidationError
		if errors.As(err, &validationErr) {
			for field, msg := range validationErr.Fields {
				domainErr.WithDetail(field, msg)
			}
		}
		return nil, domainErr
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewDomainError(ErrorTypeInternal, GenericLoginMessage, err)
	}

	env, status, err := c.do(ctx, http.MethodPost, signInPath, "", body)
	if err != nil {
		c.logger.Warn("sign-in request failed", zap.Int("status", status), zap.Error(err))
		if status == 0 {
			return nil, NewDomainError(ErrorTypeExternal, GenericLoginMessage, err)
		}
		return nil, NewDomainError(ErrorTypeInternal, GenericLoginMessage, err)
	}
	if status >= http.StatusMultipleChoices || !env.Success {
		errType := ErrorTypeUnauthorized
		if status >= http.StatusInternalServerError {
			errType = ErrorTypeExternal
		}
		return nil, NewDomainError(errType, messageOr(env.Message, GenericLoginMessage),
			fmt.Errorf("sign-in rejected with status %d", status)).WithDetail("status", status)
	}

	var payload SignInPayload
	if err := json.Unmarshal(nonEmpty(env.Data), &payload); err != nil {
		c.logger.Error("unrecognized sign-in payload", zap.Error(err))
		return nil, NewDomainError(ErrorTypeInternal, GenericLoginMessage, err)
	}

	claims, err := bearer.Decode(payload.Token)
	if err != nil {
		c.logger.Error("backend issued an undecodable token", zap.Error(err))
		return nil, NewDomainError(ErrorTypeInternal, GenericLoginMessage, err)
	}

	result := &SignInResult{Token: payload.Token, Kind: payload.Kind}

	profile, err := c.FetchProfile(ctx, payload.Token)
	if err != nil {
		c.logger.Warn("profile fetch after sign-in failed, using token claims",
			zap.String("payload_kind", payload.Kind.String()),
			zap.Error(err))
		result.Identity = models.NewIdentity(claims, payload.User)
		result.Degraded = true
		return result, nil
	}

	backend := maps.Clone(payload.User)
	if backend == nil {
		backend = make(map[string]any, len(profile))
	}
	maps.Copy(backend, profile)
	result.Identity = models.NewIdentity(claims, backend)

	c.logger.Debug("sign-in succeeded",
		zap.String("user_id", result.Identity.ID),
		zap.String("role", string(result.Identity.Role)),
		zap.String("payload_kind", payload.Kind.String()))

	return result, nil
}

// FetchProfile returns the profile of the token's owner from GET /users/me
func (c *AuthClient) FetchProfile(ctx context.Context, token string) (map[string]any, error) {
	env, status, err := c.do(ctx, http.MethodGet, profilePath, token, nil)
	if err != nil {
		return nil, NewDomainError(ErrorTypeExternal, "Profile unavailable", err)
	}
	if status >= http.StatusMultipleChoices || !env.Success {
		errType := ErrorTypeExternal
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			errType = ErrorTypeUnauthorized
		}
		return nil, NewDomainError(errType, messageOr(env.Message, "Profile unavailable"),
			fmt.Errorf("profile request returned status %d", status)).WithDetail("status", status)
	}

	var profile map[string]any
	if err := json.Unmarshal(nonEmpty(env.Data), &profile); err != nil || profile == nil {
		return nil, NewDomainError(ErrorTypeExternal, "Profile unavailable", ErrProfileShape)
	}
	return profile, nil
}

// do performs a request and decodes the response envelope. A non-JSON body
// on an error status yields an empty envelope so callers fall back to a
// generic message.
func (c *AuthClient) do(ctx context.Context, method, path, token string, body []byte) (*Envelope, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID(ctx))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusMultipleChoices {
			return &Envelope{}, resp.StatusCode, nil
		}
		return nil, resp.StatusCode, fmt.Errorf("parse response: %w", err)
	}
	return &env, resp.StatusCode, nil
}

// requestID propagates the inbound chi request id, or mints one
func requestID(ctx context.Context) string {
	if id := chimw.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

func messageOr(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
