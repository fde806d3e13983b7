package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]string // token -> userID
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]string),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, ok := m.emailIndex[user.Email]; ok {
		return store.ErrEmailTaken
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	if user.VerificationToken != "" {
		m.verifications[user.VerificationToken] = user.ID
	}
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	user, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	m.users[userID] = user
	m.verifications[token] = userID
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	userID, ok := m.verifications[token]
	if !ok {
		return store.ErrVerifyInvalid
	}
	user := m.users[userID]
	if user.VerificationExpiresAt == nil || time.Now().After(*user.VerificationExpiresAt) {
		return store.ErrVerifyInvalid
	}
	user.IsEmailVerified = true
	user.VerificationToken = ""
	m.users[userID] = user
	delete(m.verifications, token)
	return nil
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) ConsumePasswordReset(ctx context.Context, token, passwordHash string) (string, error) {
	reset, ok := m.resets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", store.ErrResetInvalid
	}
	reset.used = true
	m.resets[token] = reset
	return reset.userID, m.UpdateUserPassword(ctx, reset.userID, passwordHash)
}

func newTestService() (*Service, *mockUserStore) {
	mockStore := newMockUserStore()
	return NewService(mockStore, bcrypt.MinCost), mockStore
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, mockStore := newTestService()

	t.Run("successful registration", func(t *testing.T) {
		res, err := svc.Register(ctx, RegisterRequest{Username: "ana", Email: " Ana@Example.com ", Password: "secret1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.User.ID == "" || res.VerificationToken == "" {
			t.Fatal("expected user id and verification token")
		}
		if res.User.Email != "ana@example.com" {
			t.Fatalf("expected normalized email, got %q", res.User.Email)
		}
		stored := mockStore.users[res.User.ID]
		if stored.PasswordHash == "secret1" {
			t.Fatal("password must be stored hashed")
		}
		if stored.VerificationExpiresAt == nil {
			t.Fatal("expected verification expiry to be set")
		}
	})

	cases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{name: "duplicate email", req: RegisterRequest{Username: "ana2", Email: "ana@example.com", Password: "secret1"}, want: store.ErrEmailTaken},
		{name: "short password", req: RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "12345"}, want: ErrPasswordTooShort},
		{name: "missing fields", req: RegisterRequest{}, want: ErrMissingFields},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	res, err := svc.Register(ctx, RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("unverified allowed when not required", func(t *testing.T) {
		if _, err := svc.Login(ctx, "ana@example.com", "secret1", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("unverified refused when required", func(t *testing.T) {
		if _, err := svc.Login(ctx, "ana@example.com", "secret1", true); !errors.Is(err, ErrEmailNotVerified) {
			t.Fatalf("expected ErrEmailNotVerified, got %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.Login(ctx, "ana@example.com", "nope", false); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, err := svc.Login(ctx, "ghost@example.com", "secret1", false); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("verified user", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, res.VerificationToken); err != nil {
			t.Fatalf("verify: %v", err)
		}
		user, err := svc.Login(ctx, "ANA@example.com", "secret1", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID != res.User.ID {
			t.Fatalf("expected %s, got %s", res.User.ID, user.ID)
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	svc, mockStore := newTestService()
	res, _ := svc.Register(ctx, RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "secret1"})

	if err := svc.VerifyEmail(ctx, res.VerificationToken); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mockStore.users[res.User.ID].IsEmailVerified {
		t.Fatal("expected user to be verified")
	}
	if err := svc.VerifyEmail(ctx, res.VerificationToken); !errors.Is(err, store.ErrVerifyInvalid) {
		t.Fatalf("expected token to be single use, got %v", err)
	}
	if err := svc.VerifyEmail(ctx, ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	res, _ := svc.Register(ctx, RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "secret1"})

	cases := []struct {
		name string
		req  ChangePasswordRequest
		want error
	}{
		{name: "too short", req: ChangePasswordRequest{UserID: res.User.ID, CurrentPassword: "secret1", NewPassword: "abc"}, want: ErrPasswordTooShort},
		{name: "unchanged", req: ChangePasswordRequest{UserID: res.User.ID, CurrentPassword: "secret1", NewPassword: "secret1"}, want: ErrSamePassword},
		{name: "wrong current", req: ChangePasswordRequest{UserID: res.User.ID, CurrentPassword: "guess12", NewPassword: "secret2"}, want: ErrWrongPassword},
		{name: "missing", req: ChangePasswordRequest{UserID: res.User.ID}, want: ErrMissingFields},
		{name: "ok", req: ChangePasswordRequest{UserID: res.User.ID, CurrentPassword: "secret1", NewPassword: "secret2"}, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ChangePassword(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.Login(ctx, "ana@example.com", "secret2", false); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if _, err := svc.Register(ctx, RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("unknown email", func(t *testing.T) {
		if _, _, err := svc.RequestPasswordReset(ctx, "ghost@example.com"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("reset is single use", func(t *testing.T) {
		_, token, err := svc.RequestPasswordReset(ctx, "ana@example.com")
		if err != nil || token == "" {
			t.Fatalf("expected token, got %q %v", token, err)
		}
		if err := svc.ResetPassword(ctx, token, "newsecret"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.Login(ctx, "ana@example.com", "secret1", false); err == nil {
			t.Fatal("expected old password to stop working")
		}
		if _, err := svc.Login(ctx, "ana@example.com", "newsecret", false); err != nil {
			t.Fatalf("expected new password to work: %v", err)
		}
		if err := svc.ResetPassword(ctx, token, "another1"); !errors.Is(err, store.ErrResetInvalid) {
			t.Fatalf("expected ErrResetInvalid on reuse, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		if err := svc.ResetPassword(ctx, "whatever", "abc"); !errors.Is(err, ErrPasswordTooShort) {
			t.Fatalf("expected ErrPasswordTooShort, got %v", err)
		}
	})
}
