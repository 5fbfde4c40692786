package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/config"
	"github.com/ShejanMahamud/atg-task-2-server/pkg/crypto"
	jwtpkg "github.com/ShejanMahamud/atg-task-2-server/pkg/jwt"
)

var (
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("auth: user already exists")
	// ErrInvalidCredentials covers both an unknown username and a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrPasswordRequired is returned when no password was supplied to hash or compare.
	ErrPasswordRequired = errors.New("auth: password required")
	// ErrTokenRequired is returned when authorizing an empty token.
	ErrTokenRequired = errors.New("auth: token required")
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{users: users, logger: logger, cfg: cfg}
}

// RegisterInput carries registration fields. Only the password is transformed before storage.
type RegisterInput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Gender   string `json:"gender"`
	Photo    string `json:"photo"`
}

// Register creates a user unless the username is already taken.
func (s Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if _, err := s.users.FindByUsername(ctx, in.Username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if in.Password == "" {
		return nil, ErrPasswordRequired
	}
	hash, err := crypto.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Username: in.Username,
		Password: string(hash),
		Email:    in.Email,
		Gender:   in.Gender,
		Name:     in.Name,
		Photo:    in.Photo,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID.Hex())
	return user, nil
}

// Login verifies credentials and returns a signed token carrying the user's profile.
func (s Service) Login(ctx context.Context, username, password string) (string, domain.Profile, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", domain.Profile{}, ErrInvalidCredentials
		}
		return "", domain.Profile{}, fmt.Errorf("lookup user: %w", err)
	}
	if password == "" {
		return "", domain.Profile{}, ErrPasswordRequired
	}
	if err := crypto.ComparePassword([]byte(user.Password), password); err != nil {
		return "", domain.Profile{}, ErrInvalidCredentials
	}
	profile := user.Profile()
	token, err := s.IssueToken(profile)
	if err != nil {
		return "", domain.Profile{}, err
	}
	s.logger.Info("user logged in", "user_id", profile.ID)
	return token, profile, nil
}

// IssueToken signs profile as bearer token claims.
func (s Service) IssueToken(profile domain.Profile) (string, error) {
	token, err := jwtpkg.GenerateToken(jwtpkg.Claims{
		UserID:   profile.ID,
		Username: profile.Username,
		Email:    profile.Email,
		Name:     profile.Name,
		Gender:   profile.Gender,
		Photo:    profile.Photo,
	}, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Authorize validates a bearer token and returns the profile it was issued for.
// Only signature and expiry are checked; the store is not consulted.
func (s Service) Authorize(token string) (domain.Profile, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return domain.Profile{}, ErrTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{
		ID:       claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
		Name:     claims.Name,
		Gender:   claims.Gender,
		Photo:    claims.Photo,
	}, nil
}

// ResetPassword rehashes password for the first user with email and reports
// whether a document changed.
func (s Service) ResetPassword(ctx context.Context, email, password string) (bool, error) {
	if password == "" {
		s.logger.Error("error resetting password", "email", email, "error", ErrPasswordRequired)
		return false, ErrPasswordRequired
	}
	hash, err := crypto.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		s.logger.Error("error resetting password", "email", email, "error", err)
		return false, fmt.Errorf("hash password: %w", err)
	}
	modified, err := s.users.UpdatePasswordByEmail(ctx, email, string(hash))
	if err != nil {
		s.logger.Error("error resetting password", "email", email, "error", err)
		return false, fmt.Errorf("update password: %w", err)
	}
	return modified, nil
}
