// Package tokens issues short-lived download tokens for stored originals.
package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TokenBytes is the amount of randomness behind each token.
const TokenBytes = 64

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = errors.New("download token not found")

// Clock abstracts time retrieval so expiry is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type entry struct {
	filePath string
	expiry   time.Time
	timer    *time.Timer
}

// Registry maps tokens to file paths until they expire. A token may be
// redeemed any number of times before its expiry.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[string]*entry
	closed  bool
}

func NewRegistry(ttl time.Duration, clock Clock) *Registry {
	if clock == nil {
		clock = RealClock{}
	}
	return &Registry{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

// Issue creates a token for filePath valid for the registry TTL.
func (r *Registry) Issue(filePath string) (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate download token: %w", err)
	}
	token := hex.EncodeToString(b)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", errors.New("token registry is closed")
	}

	e := &entry{filePath: filePath, expiry: r.clock.Now().Add(r.ttl)}
	e.timer = time.AfterFunc(r.ttl, func() { r.remove(token, e) })
	r.entries[token] = e

	return token, nil
}

// Redeem returns the file path behind token.
func (r *Registry) Redeem(token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		return "", ErrNotFound
	}
	if r.clock.Now().After(e.expiry) {
		e.timer.Stop()
		delete(r.entries, token)
		return "", ErrNotFound
	}

	return e.filePath, nil
}

// Len returns the number of live tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every expiry timer and forgets all tokens.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, token)
	}
	r.closed = true
}

// remove deletes token only if it still maps to e.
func (r *Registry) remove(token string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[token]; ok && cur == e {
		delete(r.entries, token)
	}
}
