package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/apitrail/internal/domain"
	"github.com/splax/apitrail/internal/repository"
	"github.com/splax/apitrail/pkg/crypto"
	jwtpkg "github.com/splax/apitrail/pkg/jwt"
)

const (
	defaultAccessTTL  = 12 * time.Hour
	maxUsernameLength = 64
)

var (
	ErrUsernameTaken      = errors.New("auth: username already taken")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrInvalidInput       = errors.New("auth: invalid registration input")
	ErrTokenRequired      = errors.New("auth: token required")
)

// Config carries the token settings of the service.
type Config struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
}

// Service handles operator registration and bearer tokens.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    Config
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg Config) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTTL
	}
	return Service{users: users, logger: logger.With("component", "auth"), cfg: cfg}
}

// Session is the result of a successful register or login.
type Session struct {
	User        *domain.User
	AccessToken string
	ExpiresIn   time.Duration
}

// Register creates an operator account and signs it in.
func (s Service) Register(ctx context.Context, username, email, password string) (Session, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || len(username) > maxUsernameLength || strings.ContainsAny(username, " \t\n") {
		return Session{}, fmt.Errorf("%w: username must be 1-%d characters without spaces", ErrInvalidInput, maxUsernameLength)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return Session{}, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
		}
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooShort) {
			return Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return Session{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{domain.RoleUser},
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return Session{}, ErrUsernameTaken
		}
		return Session{}, err
	}
	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return session, nil
}

// Login authenticates a user and returns a fresh access token.
func (s Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("login rejected", "username", user.Username)
		return Session{}, ErrInvalidCredentials
	}
	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return session, nil
}

// Authorize validates a bearer token and returns its claims.
func (s Service) Authorize(_ context.Context, token string) (*jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, ErrTokenRequired
	}
	return jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
}

func (s Service) issue(user *domain.User) (Session, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.Username, user.Roles, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
