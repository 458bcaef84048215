package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"filevault/internal/server/auth"
	"filevault/internal/server/database"
	"filevault/internal/server/storage"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

// RegisterInput holds the fields of a new account.
type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *database.User `json:"-"`
}

// UserService manages accounts and sessions.
type UserService struct {
	repo     UserRepository
	store    storage.Store
	sessions *auth.SessionIssuer
	now      func() time.Time
}

// NewUserService creates a new user service.
func NewUserService(repo UserRepository, store storage.Store, sessions *auth.SessionIssuer, opts ...Option) *UserService {
	o := buildOptions(opts)
	return &UserService{
		repo:     repo,
		store:    store,
		sessions: sessions,
		now:      o.now,
	}
}

// Register creates a regular user account.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*database.User, error) {
	return s.create(ctx, in, database.RoleUser)
}

// CreateAdmin creates an account with the admin role.
func (s *UserService) CreateAdmin(ctx context.Context, in RegisterInput) (*database.User, error) {
	return s.create(ctx, in, database.RoleAdmin)
}

func (s *UserService) create(ctx context.Context, in RegisterInput, role database.Role) (*database.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &database.User{
		Email:        strings.ToLower(in.Email),
		Username:     in.Username,
		FullName:     in.FullName,
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, fmt.Errorf("%w: username or email already registered", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

func validateRegistration(in RegisterInput) error {
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return validationError("email is invalid")
	}
	if !usernamePattern.MatchString(in.Username) {
		return validationError("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	}
	if in.FullName == "" || utf8.RuneCountInString(in.FullName) > 128 {
		return validationError("full_name is required and must be at most 128 characters")
	}
	if len(in.Password) < minPasswordLength || len(in.Password) > maxPasswordLength {
		return validationError("password must be %d-%d bytes", minPasswordLength, maxPasswordLength)
	}
	return nil
}

// Login checks credentials and issues a session token.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			auth.RejectPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		slog.Warn("failed login", "username", u.Username)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.sessions.Issue(u.ID, u.SessionEpoch)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// Authenticate resolves a session token to its user. Tokens issued before
// the user's last logout are rejected.
func (s *UserService) Authenticate(ctx context.Context, token string) (*database.User, error) {
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	u, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u.SessionEpoch != claims.Epoch {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// Logout revokes every session token of the user.
func (s *UserService) Logout(ctx context.Context, userID int64) error {
	return mapRepoError(s.repo.BumpSessionEpoch(ctx, userID))
}

// GetUser returns a user by ID.
func (s *UserService) GetUser(ctx context.Context, id int64) (*database.User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return u, nil
}

// ListUsers returns all users.
func (s *UserService) ListUsers(ctx context.Context) ([]*database.User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateRole sets the role of a user. Only "user" and "admin" are accepted.
func (s *UserService) UpdateRole(ctx context.Context, id int64, role string) (*database.User, error) {
	r := database.Role(role)
	if !r.Valid() {
		return nil, validationError("role must be %q or %q", database.RoleUser, database.RoleAdmin)
	}
	u, err := s.repo.UpdateUserRole(ctx, id, r)
	if err != nil {
		return nil, mapRepoError(err)
	}
	slog.Info("user role updated", "user_id", id, "role", r)
	return u, nil
}

// DeleteUser removes a user together with all of their files and content.
func (s *UserService) DeleteUser(ctx context.Context, id int64) error {
	var trashed []*trashedObject
	err := s.repo.DeleteUser(ctx, id, func(records []*database.FileRecord) error {
		for _, f := range records {
			t, err := trashContent(ctx, s.store, f, s.now())
			if err != nil {
				return err
			}
			if t != nil {
				trashed = append(trashed, t)
			}
		}
		return nil
	})
	if err != nil {
		for _, t := range trashed {
			restoreContent(ctx, s.store, t)
		}
		return mapRepoError(err)
	}

	for _, t := range trashed {
		purgeContent(ctx, s.store, t)
	}
	slog.Info("user deleted", "user_id", id, "files_removed", len(trashed))
	return nil
}
