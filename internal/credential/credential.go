// Package credential implements the Credential Resolver: given a user and
// a service name, it returns a usable bearer Credential, transparently
// refreshing an expired OAuth2 token and persisting the refreshed pair
// before handing it back.
package credential

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/rakunlabs/area-core/internal/crypto"
	"github.com/rakunlabs/area-core/internal/domain"
)

// NoCredentialError is returned when the (user, service) pair has no stored
// UserService row. It is not a fault: Areas whose Action or Reaction needs
// no credential (print_reaction, time_trigger) never call Resolve at all,
// but components that do call it treat this as "not connected yet".
type NoCredentialError struct {
	UserID  string
	Service string
}

func (e *NoCredentialError) Error() string {
	return fmt.Sprintf("credential: no %s credential for user %s", e.Service, e.UserID)
}

// RefresherFactory builds an oauth2.TokenSource capable of refreshing a
// service's access token, given the currently stored refresh token.
// Components that wire a new service into the Resolver supply one of these
// keyed by service name; services with non-expiring tokens (personal access
// tokens, webhooks) never register one and are never refreshed.
type RefresherFactory func(ctx context.Context, refreshToken string) oauth2.TokenSource

// Resolver resolves (user, service) pairs to plaintext Credentials, storing
// them encrypted-at-rest via the same AES-256-GCM helper the rest of the
// store layer uses for sensitive fields.
type Resolver struct {
	store      domain.CredentialStorer
	encKey     []byte
	refreshers map[string]RefresherFactory
}

// New builds a Resolver. encKey may be nil, in which case stored tokens are
// kept in plaintext — the same opt-in encryption contract crypto.Encrypt
// already implements.
func New(store domain.CredentialStorer, encKey []byte) *Resolver {
	return &Resolver{
		store:      store,
		encKey:     encKey,
		refreshers: make(map[string]RefresherFactory),
	}
}

// RegisterRefresher wires a refresh path for service. Called once at
// startup per OAuth2-backed service, alongside that service's component
// registration.
func (r *Resolver) RegisterRefresher(service string, f RefresherFactory) {
	r.refreshers[service] = f
}

// Resolve returns the usable Credential for (userID, service), refreshing
// it first if it has expired and a refresher is registered for service.
func (r *Resolver) Resolve(ctx context.Context, userID, service string) (*domain.Credential, error) {
	row, err := r.store.GetUserService(ctx, userID, service)
	if err != nil {
		return nil, fmt.Errorf("credential: load user service: %w", err)
	}
	if row == nil {
		return nil, &NoCredentialError{UserID: userID, Service: service}
	}

	accessToken, err := crypto.Decrypt(row.AccessToken, r.encKey)
	if err != nil {
		return nil, fmt.Errorf("credential: decrypt access token: %w", err)
	}
	refreshToken, err := crypto.Decrypt(row.RefreshToken, r.encKey)
	if err != nil {
		return nil, fmt.Errorf("credential: decrypt refresh token: %w", err)
	}

	if !r.expired(row.ExpiresAt) {
		return &domain.Credential{Token: accessToken, RefreshToken: refreshToken, ExpiresAt: row.ExpiresAt}, nil
	}

	refresherFactory, ok := r.refreshers[service]
	if !ok || refreshToken == "" {
		// Expired with no way to refresh: hand back what we have and let the
		// caller's request fail downstream rather than blocking the caller.
		return &domain.Credential{Token: accessToken, RefreshToken: refreshToken, ExpiresAt: row.ExpiresAt}, nil
	}

	token, err := refresherFactory(ctx, refreshToken).Token()
	if err != nil {
		return nil, fmt.Errorf("credential: refresh %s token: %w", service, err)
	}

	newRefreshToken := refreshToken
	if token.RefreshToken != "" {
		newRefreshToken = token.RefreshToken
	}

	encAccess, err := crypto.Encrypt(token.AccessToken, r.encKey)
	if err != nil {
		return nil, fmt.Errorf("credential: encrypt refreshed access token: %w", err)
	}
	encRefresh, err := crypto.Encrypt(newRefreshToken, r.encKey)
	if err != nil {
		return nil, fmt.Errorf("credential: encrypt refreshed refresh token: %w", err)
	}

	row.AccessToken = encAccess
	row.RefreshToken = encRefresh
	row.ExpiresAt = token.Expiry.UTC().Format(time.RFC3339)

	if _, err := r.store.UpsertUserService(ctx, *row); err != nil {
		return nil, fmt.Errorf("credential: persist refreshed token: %w", err)
	}

	return &domain.Credential{Token: token.AccessToken, RefreshToken: newRefreshToken, ExpiresAt: row.ExpiresAt}, nil
}

func (r *Resolver) expired(expiresAt string) bool {
	if expiresAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return false
	}
	return time.Now().After(t)
}
