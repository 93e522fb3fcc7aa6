package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeUserStore struct {
	users         map[string]*User
	refreshTokens map[string]string
	revoked       []string
}

func newFakeStore() *fakeUserStore {
	return &fakeUserStore{
		users:         make(map[string]*User),
		refreshTokens: make(map[string]string),
	}
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user *User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUser(ctx context.Context, user *User) error { return nil }
func (f *fakeUserStore) DeleteUser(ctx context.Context, id string) error  { return nil }
func (f *fakeUserStore) ListUsers(ctx context.Context) ([]*User, error)   { return nil, nil }

func (f *fakeUserStore) StoreRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.refreshTokens[token] = userID
	return nil
}

func (f *fakeUserStore) ValidateRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	owner, ok := f.refreshTokens[token]
	return ok && owner == userID, nil
}

func (f *fakeUserStore) RevokeRefreshToken(ctx context.Context, userID, token string) error {
	delete(f.refreshTokens, token)
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *fakeUserStore) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	for token, owner := range f.refreshTokens {
		if owner == userID {
			delete(f.refreshTokens, token)
		}
	}
	return nil
}

func testService(t *testing.T, store UserStore) *Service {
	t.Helper()
	return NewService(Config{JWTSecret: "test-secret"}, store)
}

func seedUser(t *testing.T, store *fakeUserStore, email, password string, role Role) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &User{ID: "user-1", Email: email, Password: hash, Role: role}
	store.users[email] = user
	return user
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}

	if !CheckPassword("correct horse battery staple", hash) {
		t.Errorf("expected the right password to verify")
	}
	if CheckPassword("wrong password", hash) {
		t.Errorf("expected the wrong password to fail")
	}
}

func TestLoginIssuesValidTokens(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice@example.com", "hunter22", RoleAssessor)
	svc := testService(t, store)

	pair, err := svc.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("expected Bearer token type, got %s", pair.TokenType)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}

	claims, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token did not validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "alice@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims.Role != RoleAssessor {
		t.Errorf("expected assessor role, got %s", claims.Role)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice@example.com", "hunter22", RoleViewer)
	svc := testService(t, store)

	if _, err := svc.Login(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for a bad password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for an unknown user, got %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := testService(t, newFakeStore())

	if _, err := svc.ValidateToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice@example.com", "hunter22", RoleViewer)

	pair, err := testService(t, store).Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	other := NewService(Config{JWTSecret: "a different secret"}, store)
	if _, err := other.ValidateToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken across secrets, got %v", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice@example.com", "hunter22", RoleViewer)
	svc := NewService(Config{
		JWTSecret:         "test-secret",
		AccessTokenExpiry: -time.Minute,
	}, store)

	pair, err := svc.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := svc.ValidateToken(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice@example.com", "hunter22", RoleApprover)
	svc := testService(t, store)

	pair, err := svc.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	fresh, err := svc.RefreshTokens(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if fresh.AccessToken == "" {
		t.Fatal("expected a new access token")
	}

	// The used refresh token is revoked and cannot be replayed.
	if _, err := svc.RefreshTokens(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected a replayed refresh token to be rejected, got %v", err)
	}
}

func TestRefreshRejectsAccessTokenNotInStore(t *testing.T) {
	store := newFakeStore()
	seedUser(t, store, "alice@example.com", "hunter22", RoleViewer)
	svc := testService(t, store)

	pair, err := svc.Login(context.Background(), "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// The access token parses as a JWT but was never stored as a refresh
	// token.
	if _, err := svc.RefreshTokens(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Errorf("expected distinct keys")
	}
	if len(a) < 32 {
		t.Errorf("key too short: %d", len(a))
	}
}
