package auth

import (
	"errors"
	"fmt"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/store"
)

var (
	// ErrValidation wraps input problems: empty fields, short passwords.
	ErrValidation = errors.New("invalid input")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidCredentials is returned on unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// User is the authenticated identity. Identity is the username alone.
type User struct {
	Username string `json:"username"`
}

// Service implements mock authentication against the local record store.
// Passwords are compared as plaintext strings; this is deliberately not a
// security mechanism and must not be hardened into one here.
type Service struct {
	records *store.Store
}

func NewService(records *store.Store) *Service {
	return &Service{records: records}
}

func validate(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters long", ErrValidation)
	}
	return nil
}

// Register creates a new account and marks it as the active user.
func (s *Service) Register(username, password string) (User, error) {
	if err := validate(username, password); err != nil {
		return User{}, err
	}
	users := s.records.Credentials()
	if _, exists := users[username]; exists {
		return User{}, ErrUsernameTaken
	}
	users[username] = password
	s.records.SetCredentials(users)
	s.records.SetCurrentUser(username)
	return User{Username: username}, nil
}

// Login checks the credentials table and marks the user as active.
func (s *Service) Login(username, password string) (User, error) {
	if err := validate(username, password); err != nil {
		return User{}, err
	}
	users := s.records.Credentials()
	if stored, ok := users[username]; !ok || stored != password {
		return User{}, ErrInvalidCredentials
	}
	s.records.SetCurrentUser(username)
	return User{Username: username}, nil
}

// CurrentUser returns the persisted active user, if any.
func (s *Service) CurrentUser() (User, bool) {
	username, ok := s.records.CurrentUser()
	if !ok {
		return User{}, false
	}
	return User{Username: username}, true
}

// Logout clears the active user. Chat history and preferences are kept.
func (s *Service) Logout() {
	s.records.ClearCurrentUser()
}
