package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"cubis-academy/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("account is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("user already exists with this email")
	ErrInvalidUser        = errors.New("invalid user")
)

// UserDirectory resolves the owner of a session.
type UserDirectory interface {
	FindByID(ctx context.Context, userID string) (*models.User, error)
}

// UserService manages academy accounts in the relational store.
type UserService struct {
	db         *gorm.DB
	log        *slog.Logger
	bcryptCost int
}

var _ UserDirectory = (*UserService)(nil)

func NewUserService(db *gorm.DB, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{db: db, log: logger, bcryptCost: bcrypt.DefaultCost}
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Email    string
	FullName string
	Password string
	Role     models.UserRole
}

// Create hashes the password and inserts a new active user.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidUser)
	}
	if in.Role == "" {
		in.Role = models.RoleStudent
	}
	if !models.IsValidRole(string(in.Role)) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, in.Role)
	}

	if _, err := s.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     in.FullName,
		Role:         in.Role,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, logAndWrapErr(s.log, "failed to create user", err, "email", email)
	}

	s.log.Info("User created successfully", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// FindByID retrieves a user by id.
func (s *UserService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// FindByEmail retrieves a user by email, case-insensitively.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// both yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Info("Invalid password attempt", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidUser)
	}
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.update(ctx, userID, map[string]any{"password_hash": string(hash)})
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(ctx context.Context, userID string, active bool) error {
	return s.update(ctx, userID, map[string]any{"is_active": active})
}

// TouchLastLogin records a successful sign-in.
func (s *UserService) TouchLastLogin(ctx context.Context, userID string) error {
	return s.update(ctx, userID, map[string]any{"last_login": time.Now().UTC()})
}

func (s *UserService) update(ctx context.Context, userID string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
