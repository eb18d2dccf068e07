package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"taskwire/internal/store"
)

var (
	// ErrInvalidSecret indicates a registration secret outside the allow-list.
	ErrInvalidSecret = errors.New("wrong secret provided")
	// ErrAlreadyExists indicates the identity namespace already exists.
	ErrAlreadyExists = errors.New("user already exists")
	// ErrNotFound indicates no identity matches the credentials.
	ErrNotFound = errors.New("wrong credentials")
)

// Service turns credentials into identity tokens and gates registration
// behind the shared-secret allow-list.
type Service struct {
	Store   *store.Store
	Secrets []string
}

// HashIdentity derives the opaque identity token from credentials: hex sha256
// over the concatenation of username and password. The token doubles as the
// storage namespace name, so it is deliberately deterministic and unsalted.
func HashIdentity(username, password string) string {
	sum := sha256.Sum256([]byte(username + password))
	return hex.EncodeToString(sum[:])
}

// Register creates a new identity namespace. The secret must be in the
// allow-list and the namespace must not already exist.
func (s Service) Register(username, password, secret string) (string, error) {
	if !s.secretAllowed(secret) {
		return "", ErrInvalidSecret
	}
	token := HashIdentity(username, password)
	if s.Store.NamespaceExists(token) {
		return "", ErrAlreadyExists
	}
	if err := s.Store.EnsureNamespace(token); err != nil {
		return "", err
	}
	return token, nil
}

// Login resolves credentials to an existing identity. No persisted effect.
func (s Service) Login(username, password string) (string, error) {
	token := HashIdentity(username, password)
	if !s.Store.NamespaceExists(token) {
		return "", ErrNotFound
	}
	return token, nil
}

func (s Service) secretAllowed(secret string) bool {
	for _, allowed := range s.Secrets {
		if secret == allowed {
			return true
		}
	}
	return false
}
