// Package bearer reads the claims carried by EKmate bearer tokens.
//
// Tokens are issued by the EKmate backend and follow the JWT layout
// (header.payload.signature). Only the payload segment is read. The
// signature is never verified and registered claims such as exp or nbf are
// never checked: the backend that issued the token is trusted implicitly.
// Adding verification here would change which stored tokens are accepted,
// and there is no key distribution to verify against anyway.
package bearer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a token cannot be decoded into claims
	ErrMalformedToken = errors.New("malformed token")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// segments is the parser used for base64url segment decoding only. It is
// never asked to validate anything.
var segments = jwt.NewParser(jwt.WithPaddingAllowed())

// Claims is the decoded payload segment of a bearer token.
type Claims map[string]any

// Decode extracts the claims from the second segment of token without
// verifying its signature.
func Decode(token string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformedToken, len(parts))
	}

	payload, err := segments.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url: %v", ErrMalformedToken, err)
	}
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedToken)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrMalformedToken, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrMalformedToken)
	}

	return claims, nil
}

// String returns the claim as a string. Numeric claims are formatted without
// an exponent; anything else yields "".
func (c Claims) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Subject returns the user identifier carried by the token, looking at id,
// then _id, then sub.
func (c Claims) Subject() (string, error) {
	for _, key := range []string{"id", "_id", "sub"} {
		if v := c.String(key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: id", ErrMissingClaim)
}

// Role returns the role claim, or "" when absent.
func (c Claims) Role() string {
	return c.String("role")
}
