// Package auth resolves publisher identity. Authentication itself lives in
// an external identity provider; this package only exchanges an opaque
// bearer token for a stable publisher id.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken is returned when the identity provider rejects the token.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the resolved caller.
type Identity struct {
	UserID string `json:"user_id"`
}

// Verifier exchanges an opaque token for an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HTTPVerifier asks the external identity provider to verify tokens via
// GET {baseURL}/verify with the token as a bearer header.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPVerifier creates a verifier against the given provider base URL.
func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/verify", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: identity provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Identity{}, ErrInvalidToken
	default:
		return Identity{}, fmt.Errorf("auth: identity provider status %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("auth: decode identity: %w", err)
	}
	if id.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// StaticVerifier maps fixed tokens to user ids. Development and tests only.
type StaticVerifier map[string]string

// ParseStaticTokens parses "token:user,token2:user2" (AUTH_STATIC_TOKENS).
func ParseStaticTokens(s string) (StaticVerifier, error) {
	v := StaticVerifier{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, user, ok := strings.Cut(pair, ":")
		if !ok || tok == "" || user == "" {
			return nil, fmt.Errorf("auth: malformed static token entry %q", pair)
		}
		v[tok] = user
	}
	return v, nil
}

func (v StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	user, ok := v[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: user}, nil
}
