// Package identity supplies the engine with the signed-in owner and the
// connectivity signal. Both may change at any moment, including while a
// sync cycle is running.
package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Provider reports who is signed in and whether the network is reachable.
type Provider interface {
	// OwnerID returns the current owner, false when signed out.
	OwnerID() (string, bool)
	// Online reports connectivity.
	Online() bool
}

// Connectivity is a Provider's network state plus change notification.
// Static and Token both embed one.
type Connectivity interface {
	Online() bool
	// WatchOnline registers fn to be called after every change of the
	// online flag, from the goroutine that made it.
	WatchOnline(fn func(online bool))
}

// connectivity holds the online flag and its watchers.
type connectivity struct {
	mu       sync.Mutex
	online   bool
	watchers []func(bool)
}

// Online implements Provider.
func (c *connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline updates connectivity and notifies watchers when it changes.
func (c *connectivity) SetOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	watchers := append([]func(bool){}, c.watchers...)
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range watchers {
		fn(online)
	}
}

// WatchOnline implements Connectivity.
func (c *connectivity) WatchOnline(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Static is a mutable Provider set explicitly by the host application.
// Safe for concurrent use.
type Static struct {
	connectivity

	mu    sync.RWMutex
	owner string
}

// NewStatic creates a provider. An empty owner means signed out.
func NewStatic(owner string, online bool) *Static {
	s := &Static{owner: owner}
	s.online = online
	return s
}

// OwnerID implements Provider.
func (s *Static) OwnerID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner, s.owner != ""
}

// SetOwner signs in as owner.
func (s *Static) SetOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
}

// SignOut clears the owner.
func (s *Static) SignOut() {
	s.SetOwner("")
}

// Token is a Provider whose owner is the subject of a session JWT. The token
// is decoded without verifying its signature: the remote verifies it on
// every request, the client only needs to know whose data it holds.
type Token struct {
	connectivity

	mu    sync.RWMutex
	raw   string
	owner string
}

// NewToken creates a provider from a session token. An empty token means
// signed out.
func NewToken(raw string, online bool) (*Token, error) {
	t := &Token{}
	t.online = online
	if err := t.SetToken(raw); err != nil {
		return nil, err
	}
	return t, nil
}

// SetToken replaces the session token.
func (t *Token) SetToken(raw string) error {
	owner := ""
	if raw != "" {
		var err error
		owner, err = Subject(raw)
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.raw = raw
	t.owner = owner
	return nil
}

// Raw returns the current token, for use as a bearer credential.
func (t *Token) Raw() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.raw
}

// OwnerID implements Provider.
func (t *Token) OwnerID() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owner, t.owner != ""
}

// SignOut drops the token.
func (t *Token) SignOut() {
	_ = t.SetToken("")
}

// Subject extracts the sub claim of a JWT without verifying it.
func Subject(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("parse session token: missing sub claim")
	}
	return claims.Subject, nil
}
