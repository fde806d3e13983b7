package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/authpw"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

type RegisterInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateProfileInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Avatar   string `json:"avatar" validate:"omitempty,url"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,nefield=CurrentPassword"`
}

type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

type RegisterResult struct {
	User                 UserView
	DevVerificationToken string
}

type LoginResult struct {
	Session Session
	User    UserView
}

// Register creates an unverified account and mails the verification link.
// Without a mailer outside production the token is handed back instead.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	if err := s.validate.Validate(in); err != nil {
		return RegisterResult{}, err
	}
	result, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	user := result.User
	token := result.VerificationToken
	out := RegisterResult{User: userView(user)}
	if s.devBypass() {
		out.DevVerificationToken = token
		return out, nil
	}
	s.sendMail("email:verification", func() error {
		return s.mailer.SendVerificationEmail(user.Email, user.Username, s.clientLink("/verify-email?token="+url.QueryEscape(token)))
	})
	return out, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	if err := s.validate.Validate(in); err != nil {
		return LoginResult{}, err
	}
	user, err := s.passwords.Login(ctx, in.Email, in.Password, s.cfg.RequireVerifiedEmail)
	if err != nil {
		return LoginResult{}, err
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Session: session, User: userView(user)}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.passwords.VerifyEmail(ctx, strings.TrimSpace(token))
}

// ResendVerification mails a fresh verification link. Verified accounts are
// left alone.
func (s *Service) ResendVerification(ctx context.Context, userID string) (string, error) {
	user, token, err := s.passwords.ResendVerification(ctx, userID)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if s.devBypass() {
		return token, nil
	}
	s.sendMail("email:verification", func() error {
		return s.mailer.SendVerificationEmail(user.Email, user.Username, s.clientLink("/verify-email?token="+url.QueryEscape(token)))
	})
	return "", nil
}

// ForgotPassword mails a reset link. The dev bypass returns the token.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", invalidArgument("Email is required")
	}
	user, token, err := s.passwords.RequestPasswordReset(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", notFoundError("User not found")
	}
	if err != nil {
		return "", err
	}
	if s.devBypass() {
		return token, nil
	}
	s.sendMail("email:reset", func() error {
		return s.mailer.SendPasswordResetEmail(user.Email, user.Username, s.clientLink("/reset-password?token="+url.QueryEscape(token)))
	})
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := s.validate.Validate(in); err != nil {
		return err
	}
	return s.passwords.ResetPassword(ctx, in.Token, in.Password)
}

func (s *Service) Me(ctx context.Context, userID string) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return UserView{}, notFoundError("User not found")
	}
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (UserView, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Validate(in); err != nil {
		return UserView{}, err
	}
	user, err := s.store.UpdateUserProfile(ctx, userID, in.Username, in.Email, in.Avatar)
	if errors.Is(err, store.ErrNotFound) {
		return UserView{}, notFoundError("User not found")
	}
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) error {
	if err := s.validate.Validate(in); err != nil {
		return err
	}
	return s.passwords.ChangePassword(ctx, authpw.ChangePasswordRequest{
		UserID:          userID,
		CurrentPassword: in.CurrentPassword,
		NewPassword:     in.NewPassword,
	})
}

// UploadAvatar stores the image and points the profile at its public URL.
func (s *Service) UploadAvatar(ctx context.Context, userID string, r io.Reader) (UserView, error) {
	if s.avatars == nil {
		return UserView{}, domainError(http.StatusServiceUnavailable, "AVATAR_UNAVAILABLE", "Avatar upload is not configured", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	link, err := s.avatars.Upload(ctx, userID, r)
	if err != nil {
		return UserView{}, err
	}
	updated, err := s.store.UpdateUserProfile(ctx, userID, user.Username, user.Email, link)
	if err != nil {
		return UserView{}, err
	}
	return userView(updated), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserRef, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return userRefs(users), nil
}

// AvailableUsers lists the users that could still be added to the board.
func (s *Service) AvailableUsers(ctx context.Context, boardID, userID string) ([]UserRef, error) {
	if _, err := s.boardFor(ctx, boardID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsersNotInBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return userRefs(users), nil
}

func userRefs(users []store.User) []UserRef {
	out := make([]UserRef, 0, len(users))
	for _, u := range users {
		out = append(out, userRef(u))
	}
	return out
}

func (s *Service) mailerConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// devBypass reports whether tokens that would be mailed are returned to the
// caller instead.
func (s *Service) devBypass() bool {
	return !s.mailerConfigured() && !s.cfg.IsProduction()
}

func (s *Service) sendMail(name string, send func() error) {
	if !s.mailerConfigured() {
		log.WithField("hook", name).Debug("mailer not configured, skipping email")
		return
	}
	s.hooks.Dispatch(name, func(context.Context) error {
		return send()
	})
}
