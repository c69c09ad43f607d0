// Package securechannel holds what EAC and GlobalPlatform channels have in
// common: the credential produced by a successful authentication, the card
// session it belongs to, and the DES based primitives both protocols use.
package securechannel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Session identifies one connection to one card. Credentials are installed
// per security domain path and never leave the session that created them.
type Session struct {
	ID uuid.UUID

	mu     sync.Mutex
	creds  map[string]*Credential
	closed bool
}

// NewSession starts a new card session with a random identifier.
func NewSession() *Session {
	return &Session{
		ID:    uuid.New(),
		creds: make(map[string]*Credential),
	}
}

// Install binds c to its path. A credential already installed for the same
// path is destroyed and replaced.
func (s *Session) Install(c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if c.SessionID != s.ID {
		return fmt.Errorf("%w: credential session %s, current session %s", ErrCredentialReuse, c.SessionID, s.ID)
	}
	if c.Destroyed() {
		return ErrCredentialDestroyed
	}

	if old, ok := s.creds[c.Path]; ok && old != c {
		old.Destroy()
	}
	s.creds[c.Path] = c

	slog.Debug("secure channel credential installed",
		"session", s.ID.String(),
		"path", c.Path,
		"level", c.Level.String(),
	)
	return nil
}

// Credential returns the live credential installed for path.
func (s *Session) Credential(path string) (*Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[path]
	if !ok || c.Destroyed() {
		return nil, false
	}
	return c, true
}

// Close destroys every installed credential. The session cannot be reused.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, c := range s.creds {
		c.Destroy()
		delete(s.creds, path)
	}
	s.closed = true
}

// PathFromAID returns the credential path used for a security domain or
// application identified by aid.
func PathFromAID(aid []byte) string {
	return fmt.Sprintf("%X", aid)
}
