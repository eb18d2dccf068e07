package identity_test

import (
	"testing"

	"taskwire/internal/identity"
	"taskwire/internal/store"
)

func newTestService(t *testing.T) identity.Service {
	t.Helper()
	return identity.Service{
		Store:   store.New(t.TempDir()),
		Secrets: []string{"s3cret", "backup"},
	}
}

func TestHashIdentityDeterministic(t *testing.T) {
	a := identity.HashIdentity("ada", "pw")
	b := identity.HashIdentity("ada", "pw")
	if a != b {
		t.Fatalf("same credentials produced different tokens: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("token should be a hex sha256 digest, got %q", a)
	}
	if a == identity.HashIdentity("ada", "other") {
		t.Fatalf("different passwords must not collide")
	}
}

func TestRegisterCreatesNamespace(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Register("ada", "pw", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token != identity.HashIdentity("ada", "pw") {
		t.Fatalf("token mismatch: %s", token)
	}
	if !svc.Store.NamespaceExists(token) {
		t.Fatalf("registration should create the identity namespace")
	}
}

func TestRegisterWrongSecret(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Register("ada", "pw", "guess"); err != identity.ErrInvalidSecret {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
	if svc.Store.NamespaceExists(identity.HashIdentity("ada", "pw")) {
		t.Fatalf("failed registration must not leave a namespace behind")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Register("ada", "pw", "s3cret"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register("ada", "pw", "backup"); err != identity.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)
	registered, err := svc.Register("ada", "pw", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	loggedIn, err := svc.Login("ada", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn != registered {
		t.Fatalf("login token %s != registered token %s", loggedIn, registered)
	}
}

func TestLoginUnknownCredentials(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Login("ada", "pw"); err != identity.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
