// Package authpw provides email/password accounts: registration, sign in,
// email verification, password change and password reset.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

const (
	MinPasswordLength = 6
	VerificationTTL   = 24 * time.Hour
	ResetTTL          = time.Hour
)

var (
	ErrMissingFields      = errors.New("required fields are missing")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrSamePassword       = errors.New("new password must be different from current password")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address is not verified")
)

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, token, passwordHash string) (string, error)
}

// NewService creates a new auth service. A cost of zero uses bcrypt's default.
func NewService(store UserStore, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, cost: cost, now: time.Now}
}

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

type RegisterResult struct {
	User              store.User
	VerificationToken string
}

// Register creates an unverified account and returns its verification token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email := normalizeEmail(req.Email)
	if req.Username == "" || email == "" || req.Password == "" {
		return nil, ErrMissingFields
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, store.ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	token := util.RandomToken(32)
	expiresAt := s.now().Add(VerificationTTL)

	user := store.User{
		ID:                    util.NewID("usr"),
		Username:              req.Username,
		Email:                 email,
		PasswordHash:          hash,
		VerificationToken:     token,
		VerificationExpiresAt: &expiresAt,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &RegisterResult{User: user, VerificationToken: token}, nil
}

// Login checks the password. When requireVerified is set an unverified
// account is refused after the password matches.
func (s *Service) Login(ctx context.Context, email, password string, requireVerified bool) (store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrMissingFields
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if requireVerified && !user.IsEmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

// VerifyEmail verifies an email address using a token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingFields
	}
	return s.store.VerifyUserEmail(ctx, token)
}

// ResendVerification issues a fresh verification token for an unverified user.
func (s *Service) ResendVerification(ctx context.Context, userID string) (store.User, string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, "", err
	}
	if user.IsEmailVerified {
		return user, "", nil
	}
	token := util.RandomToken(32)
	if err := s.store.UpdateUserVerificationToken(ctx, userID, token, s.now().Add(VerificationTTL)); err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
}

func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return ErrMissingFields
	}
	if len(req.NewPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if req.CurrentPassword == req.NewPassword {
		return ErrSamePassword
	}
	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrWrongPassword
	}
	hash, err := s.hash(req.NewPassword)
	if err != nil {
		return err
	}
	return s.store.UpdateUserPassword(ctx, user.ID, hash)
}

// RequestPasswordReset creates a reset token for the account behind email.
// Unknown addresses return store.ErrNotFound.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (store.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return store.User{}, "", err
	}
	token := util.RandomToken(32)
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, s.now().Add(ResetTTL)); err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// ResetPassword consumes a reset token and sets the new password. The token
// works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return ErrMissingFields
	}
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	_, err = s.store.ConsumePasswordReset(ctx, token, hash)
	return err
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
