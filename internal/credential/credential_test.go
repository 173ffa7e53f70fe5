package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/rakunlabs/area-core/internal/crypto"
	"github.com/rakunlabs/area-core/internal/domain"
)

type fakeStore struct {
	rows map[string]domain.UserService
}

func key(userID, service string) string { return userID + "/" + service }

func (f *fakeStore) GetUserService(ctx context.Context, userID, service string) (*domain.UserService, error) {
	row, ok := f.rows[key(userID, service)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeStore) UpsertUserService(ctx context.Context, us domain.UserService) (*domain.UserService, error) {
	f.rows[key(us.UserID, us.Service)] = us
	return &us, nil
}

func TestResolveNoCredential(t *testing.T) {
	r := New(&fakeStore{rows: map[string]domain.UserService{}}, nil)

	_, err := r.Resolve(context.Background(), "u1", "discord")
	var notFound *NoCredentialError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NoCredentialError, got %v", err)
	}
}

func TestResolveUnexpiredToken(t *testing.T) {
	store := &fakeStore{rows: map[string]domain.UserService{
		key("u1", "discord"): {
			UserID:      "u1",
			Service:     "discord",
			AccessToken: "plain-token",
			ExpiresAt:   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		},
	}}
	r := New(store, nil)

	cred, err := r.Resolve(context.Background(), "u1", "discord")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Token != "plain-token" {
		t.Fatalf("expected plain-token, got %q", cred.Token)
	}
}

func TestResolveRefreshesExpiredToken(t *testing.T) {
	encKey, _ := crypto.DeriveKey("passphrase")
	encAccess, _ := crypto.Encrypt("old-access", encKey)
	encRefresh, _ := crypto.Encrypt("old-refresh", encKey)

	store := &fakeStore{rows: map[string]domain.UserService{
		key("u1", "gmail"): {
			UserID:       "u1",
			Service:      "gmail",
			AccessToken:  encAccess,
			RefreshToken: encRefresh,
			ExpiresAt:    time.Now().Add(-time.Minute).UTC().Format(time.RFC3339),
		},
	}}

	r := New(store, encKey)
	r.RegisterRefresher("gmail", func(ctx context.Context, refreshToken string) oauth2.TokenSource {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: "new-access",
			Expiry:      time.Now().Add(time.Hour),
		})
	})

	cred, err := r.Resolve(context.Background(), "u1", "gmail")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Token != "new-access" {
		t.Fatalf("expected refreshed token, got %q", cred.Token)
	}

	stored := store.rows[key("u1", "gmail")]
	decrypted, _ := crypto.Decrypt(stored.AccessToken, encKey)
	if decrypted != "new-access" {
		t.Fatalf("expected persisted refreshed token, got %q", decrypted)
	}
}
