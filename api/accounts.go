package api

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/bearer/internal/util"
)

var (
	errUserExists         = errors.New("user already exists")
	errInvalidUsername    = errors.New("username must not be empty")
	errInvalidCredentials = errors.New("invalid credentials")
)

// userStore keeps bcrypt password hashes keyed by normalised username.
type userStore struct {
	mu     sync.RWMutex
	hashes map[string][]byte
	// dummy is compared against for unknown users so that lookups of
	// missing accounts cost the same as wrong passwords.
	dummy []byte
}

func newUserStore() *userStore {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("bearer-dummy-password"), bcrypt.MinCost)
	return &userStore{hashes: make(map[string][]byte), dummy: dummy}
}

func (s *userStore) add(username, password string) error {
	name := util.NormalizeUsername(username)
	if name == "" {
		return errInvalidUsername
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hashes[name]; ok {
		return errUserExists
	}
	s.hashes[name] = hash
	return nil
}

// authenticate returns the normalised username when password matches.
func (s *userStore) authenticate(username, password string) (string, error) {
	name := util.NormalizeUsername(username)
	s.mu.RLock()
	hash, ok := s.hashes[name]
	s.mu.RUnlock()
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return "", errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", errInvalidCredentials
	}
	return name, nil
}
