package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// maxPasswordBytes is the most bcrypt will hash.
const maxPasswordBytes = 72

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

type userRecord struct {
	PasswordHash string `json:"password_hash"`
}

// UserStore keeps web accounts in a JSON file with bcrypt password hashes.
type UserStore struct {
	mu    sync.Mutex
	path  string
	users map[string]userRecord
	cost  int
}

// OpenUserStore loads path, or starts empty if it does not exist yet.
func OpenUserStore(path string) (*UserStore, error) {
	s := &UserStore{
		path:  path,
		users: make(map[string]userRecord),
		cost:  bcrypt.DefaultCost,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.users); err != nil {
			return nil, fmt.Errorf("failed to parse users file %s: %w", path, err)
		}
	}
	return s, nil
}

// ValidateCredentials checks the shape of a username and password.
func ValidateCredentials(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 1-64 letters, digits, '.', '_' or '-'")
	}
	// Usernames become a conversation key component.
	if err := (storage.Key{Platform: "web", User: username, Channel: "0"}).Validate(); err != nil {
		return fmt.Errorf("invalid username: %w", err)
	}
	if password == "" {
		return errors.New("password is required")
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

// Register adds a user.
func (s *UserStore) Register(username, password string) error {
	if err := ValidateCredentials(username, password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	s.users[username] = userRecord{PasswordHash: string(hash)}
	if err := s.save(); err != nil {
		delete(s.users, username)
		return err
	}
	return nil
}

// Authenticate checks a username and password.
func (s *UserStore) Authenticate(username, password string) error {
	s.mu.Lock()
	rec, ok := s.users[username]
	s.mu.Unlock()

	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// save writes the users file atomically. Callers hold mu.
func (s *UserStore) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write users file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace users file: %w", err)
	}
	return nil
}
