package registry

import (
	"sync"

	"taskwire/internal/domain"
)

// Conn is a live client connection. Implementations must be safe for
// concurrent Send calls.
type Conn interface {
	ID() string
	Send(msg domain.Message) error
}

type entry struct {
	conns []Conn
}

// Registry tracks which connections are associated with which identity
// token. All mutation and iteration happens under one mutex so a fan-out
// never observes a torn entry.
type Registry struct {
	mu      sync.Mutex
	byToken map[string]*entry
}

func New() *Registry {
	return &Registry{byToken: map[string]*entry{}}
}

// Associate attaches the connection to the token. Attaching an
// already-associated connection is a no-op; a connection does not move
// between tokens without an explicit Disassociate.
func (r *Registry) Associate(token string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byToken[token]
	if !ok {
		e = &entry{}
		r.byToken[token] = e
	}
	for _, existing := range e.conns {
		if existing.ID() == c.ID() {
			return
		}
	}
	e.conns = append(e.conns, c)
}

// Disassociate removes the connection from whichever token it was under.
// Unknown connections are a no-op.
func (r *Registry) Disassociate(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, e := range r.byToken {
		kept := e.conns[:0]
		for _, existing := range e.conns {
			if existing.ID() != c.ID() {
				kept = append(kept, existing)
			}
		}
		e.conns = kept
		if len(e.conns) == 0 {
			delete(r.byToken, token)
		}
	}
}

// ForEachForToken invokes fn once per connection associated with token, in
// registry order.
func (r *Registry) ForEachForToken(token string, fn func(Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byToken[token]
	if !ok {
		return
	}
	for _, c := range e.conns {
		fn(c)
	}
}

// CountForToken returns the number of connections under token.
func (r *Registry) CountForToken(token string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byToken[token]; ok {
		return len(e.conns)
	}
	return 0
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.byToken {
		n += len(e.conns)
	}
	return n
}

// Tokens returns the tokens that currently have live connections.
func (r *Registry) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := make([]string, 0, len(r.byToken))
	for token := range r.byToken {
		tokens = append(tokens, token)
	}
	return tokens
}
