package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrNotAuthenticated is returned when a request carries no valid bearer token.
var ErrNotAuthenticated = errors.New("not authenticated")

// Identity describes the authenticated caller extracted from a verified token.
type Identity struct {
	Subject string
	Email   string
}

// Verifier validates a raw bearer token and resolves the caller identity.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier builds a Verifier backed by an OIDC identity provider.
// It performs issuer discovery, so it requires network access at startup.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return &oidcVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims struct {
		Email string `json:"email"`
	}
	// Email is informational; a token without the claim is still valid.
	_ = token.Claims(&claims)

	return Identity{Subject: token.Subject, Email: claims.Email}, nil
}

// StaticVerifier accepts every token and returns a fixed identity.
// Intended for local development and tests where no identity provider runs.
type StaticVerifier struct {
	Identity Identity
}

func (v StaticVerifier) Verify(context.Context, string) (Identity, error) {
	return v.Identity, nil
}

type identityKey struct{}

// IdentityFrom extracts the authenticated identity from the request context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Auth returns middleware that verifies the Authorization bearer token and
// stores the resulting Identity in the request context. Requests without a
// valid token receive 401 with a JSON error payload.
func Auth(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				respondUnauthenticated(w)
				return
			}

			id, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				respondUnauthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func respondUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": ErrNotAuthenticated.Error()})
}
