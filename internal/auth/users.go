package auth

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

// UserService manages platform accounts. The users table is keyed by
// username.
type UserService struct {
	store *store.Store
	now   func() time.Time
}

// UserOption configures the user service.
type UserOption func(*UserService)

// WithUserNow overrides the clock for tests.
func WithUserNow(now func() time.Time) UserOption {
	return func(s *UserService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewUserService creates the user service over the store.
func NewUserService(st *store.Store, opts ...UserOption) *UserService {
	s := &UserService{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new active user with a bcrypt password hash.
func (s *UserService) Register(username, password string, role models.UserRole) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errCode(CodeInvalidInput, "username and password required")
	}
	switch role {
	case models.RoleAdmin, models.RoleStandard, models.RoleViewer:
	default:
		return nil, errCode(CodeInvalidInput, "unknown role")
	}

	if _, err := s.store.Get(store.TableUsers, username); err == nil {
		return nil, errCode(CodeUserExists, "username already taken")
	} else if !store.IsNotFound(err) {
		return nil, &Error{Code: CodeDatabaseError, Message: "user lookup failed", Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errCode(CodeInvalidInput, "password hashing failed")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.persist(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user.
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	user, err := s.Get(username)
	if err != nil {
		// Credential probes must not reveal whether the user exists.
		if code, _ := CodeOf(err); code == CodeUserNotFound {
			return nil, errCode(CodeInvalidCredentials, "invalid username or password")
		}
		return nil, err
	}
	if !user.Active {
		return nil, errCode(CodeUserDisabled, "account disabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, errCode(CodeInvalidCredentials, "invalid username or password")
	}
	return user, nil
}

// Get returns a user by username.
func (s *UserService) Get(username string) (*models.User, error) {
	data, err := s.store.Get(store.TableUsers, username)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errCode(CodeUserNotFound, "no such user")
		}
		return nil, &Error{Code: CodeDatabaseError, Message: "user lookup failed", Err: err}
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, &Error{Code: CodeDatabaseError, Message: "corrupt user record", Err: err}
	}
	return &user, nil
}

// ChangePassword verifies the old password and stores a new hash.
func (s *UserService) ChangePassword(username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return errCode(CodeInvalidInput, "new password required")
	}
	user, err := s.Authenticate(username, oldPassword)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errCode(CodeInvalidInput, "password hashing failed")
	}
	user.PasswordHash = string(hash)
	return s.persist(user)
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(username string, active bool) error {
	user, err := s.Get(username)
	if err != nil {
		return err
	}
	user.Active = active
	return s.persist(user)
}

// List returns all users.
func (s *UserService) List() ([]*models.User, error) {
	var out []*models.User
	err := s.store.Iter(store.TableUsers, func(_ string, value []byte) error {
		var user models.User
		if err := json.Unmarshal(value, &user); err != nil {
			return nil
		}
		out = append(out, &user)
		return nil
	})
	if err != nil {
		return nil, &Error{Code: CodeDatabaseError, Message: "user scan failed", Err: err}
	}
	return out, nil
}

func (s *UserService) persist(user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return &Error{Code: CodeDatabaseError, Message: "marshal user", Err: err}
	}
	if err := s.store.Insert(store.TableUsers, user.Username, data); err != nil {
		return &Error{Code: CodeDatabaseError, Message: "persist user", Err: err}
	}
	return nil
}
