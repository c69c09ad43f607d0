package securechannel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrCredentialReuse is returned when a credential is installed in a card
	// session other than the one that created it.
	ErrCredentialReuse = errors.New("securechannel: credential belongs to another session")

	// ErrCredentialDestroyed is returned by operations on a destroyed credential.
	ErrCredentialDestroyed = errors.New("securechannel: credential destroyed")

	// ErrSessionClosed is returned when installing into a closed session.
	ErrSessionClosed = errors.New("securechannel: session closed")
)

// Level is the protection applied to commands once a channel is open.
// The values match the GlobalPlatform security level byte.
type Level byte

const (
	LevelNone   Level = 0x00
	LevelMAC    Level = 0x01
	LevelMACEnc Level = 0x03
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelMAC:
		return "C-MAC"
	case LevelMACEnc:
		return "C-MAC+C-ENC"
	default:
		return fmt.Sprintf("Level(0x%02X)", byte(l))
	}
}

// Valid reports whether l is one of the supported levels.
func (l Level) Valid() bool {
	return l == LevelNone || l == LevelMAC || l == LevelMACEnc
}

// Credential is the key material of an authenticated channel.
// It is bound to a (security domain path, card session) pair. Keys are
// fixed for its lifetime; only the send sequence counter moves.
type Credential struct {
	Path      string
	SessionID uuid.UUID
	Level     Level
	EncKey    []byte
	MACKey    []byte

	mu        sync.Mutex
	counter   []byte
	destroyed bool
}

// NewCredential creates a credential for session sessionID. The counter
// slice gives both the initial value and the width of the counter.
func NewCredential(sessionID uuid.UUID, path string, level Level, encKey, macKey, counter []byte) *Credential {
	return &Credential{
		Path:      path,
		SessionID: sessionID,
		Level:     level,
		EncKey:    append([]byte(nil), encKey...),
		MACKey:    append([]byte(nil), macKey...),
		counter:   append([]byte(nil), counter...),
	}
}

// NextCounter increments the counter by one and returns a copy of the new
// value. The counter wraps around at its maximum value.
func (c *Credential) NextCounter() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrCredentialDestroyed
	}
	for i := len(c.counter) - 1; i >= 0; i-- {
		c.counter[i]++
		if c.counter[i] != 0 {
			break
		}
	}
	return append([]byte(nil), c.counter...), nil
}

// Counter returns a copy of the current counter value.
func (c *Credential) Counter() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.counter...)
}

// Destroyed reports whether Destroy has been called.
func (c *Credential) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Destroy wipes the key material. Subsequent NextCounter calls fail.
func (c *Credential) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	wipe(c.EncKey)
	wipe(c.MACKey)
	wipe(c.counter)
	c.destroyed = true
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
