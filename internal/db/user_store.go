// Package db provides GORM-based database operations for roost.
package db

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/roosthq/roost/pkg/models"
)

var (
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrBadLogin is returned for unknown users and wrong passwords alike,
	// so login failures do not leak which usernames exist.
	ErrBadLogin = errors.New("invalid username or password")
)

// UserStore provides account and token database operations.
type UserStore struct {
	store *Store
}

// NewUserStore creates a new user store.
func NewUserStore(store *Store) *UserStore {
	return &UserStore{store: store}
}

// CreateUser registers a new account. The password is bcrypt-hashed before it
// touches storage; the plaintext is never persisted.
func (s *UserStore) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	row := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
	}
	err = s.store.DB.WithContext(ctx).Create(row).Error
	if err != nil {
		// The unique index on username is the source of truth; map its
		// violation rather than racing a pre-check.
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return row.toModel(), nil
}

// VerifyUser checks a username/password pair and returns the account.
func (s *UserStore) VerifyUser(ctx context.Context, username, password string) (*models.User, error) {
	var row User
	err := s.store.DB.WithContext(ctx).First(&row, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadLogin
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadLogin
	}
	return row.toModel(), nil
}

// IssueToken mints an opaque bearer token for the user.
func (s *UserStore) IssueToken(ctx context.Context, userID string) (string, error) {
	row := &AuthToken{
		Token:  uuid.NewString(),
		UserID: userID,
	}
	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return "", err
	}
	return row.Token, nil
}

// LookupToken resolves a bearer token to the owning user id.
func (s *UserStore) LookupToken(ctx context.Context, token string) (string, error) {
	var row AuthToken
	err := s.store.DB.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.UserID, nil
}

// isUniqueViolation matches driver-specific unique constraint errors that
// GORM does not translate for every dialector.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
