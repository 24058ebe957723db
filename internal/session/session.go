// Package session gives derived key material an explicit owner. A
// Session is created by the login flow after SRP reaches AUTHENTICATED,
// is threaded through item operations by its caller, and is wiped by
// Close on every path out. There is no process-wide key store.
package session

import (
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
)

var ErrClosed = errors.New("session: closed")

// Session owns the MEK for one authenticated login and a token-binding
// key derived from the SRP session key. Neither survives Close.
type Session struct {
	mu       sync.Mutex
	identity string
	mek      [32]byte
	tokenKey [32]byte
	locked   bool // mlock succeeded
	closed   bool
}

// New adopts mek and derives the token-binding key from the SRP session
// key K. Both inputs are copied and the caller's buffers wiped, so the
// session becomes the sole owner of the material.
func New(identity string, mek *[32]byte, srpKey []byte) (*Session, error) {
	s := &Session{identity: identity}
	s.mek = *mek
	crypto.Zero32(mek)

	tk, err := TokenBindingKey(srpKey)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.tokenKey = tk

	if err := crypto.LockMemory(s.mek[:]); err == nil {
		s.locked = true
	}
	return s, nil
}

// TokenBindingKey stretches the SRP session key K into the key that
// binds an issued API token to the handshake it came from. Client and
// server derive the same value from their own copies of K; only its
// digest ever appears in a token. The srpKey buffer is wiped before
// TokenBindingKey returns.
func TokenBindingKey(srpKey []byte) ([32]byte, error) {
	defer crypto.Zero(srpKey)
	var tk [32]byte
	r := hkdf.New(sha256.New, srpKey, nil, []byte("vault/session-token/v1"))
	if _, err := io.ReadFull(r, tk[:]); err != nil {
		return tk, err
	}
	return tk, nil
}

func (s *Session) Identity() string { return s.identity }

// MEK exposes the master encryption key to seal and open operations.
// The returned pointer aliases session-owned memory: callers must not
// retain it past the call that needed it.
func (s *Session) MEK() (*[32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &s.mek, nil
}

// TokenKey returns a copy of the token-binding key.
func (s *Session) TokenKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return append([]byte(nil), s.tokenKey[:]...), nil
}

// ReplaceMEK swaps in the post-rotation MEK, wiping the old one. The
// caller's copy is consumed.
func (s *Session) ReplaceMEK(mek *[32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	crypto.Zero32(&s.mek)
	s.mek = *mek
	crypto.Zero32(mek)
	return nil
}

// Close wipes all key material. Idempotent; every acquisition path must
// reach it, success or failure.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.locked {
		_ = crypto.UnlockMemory(s.mek[:])
	}
	crypto.Zero32(&s.mek)
	crypto.Zero32(&s.tokenKey)
	s.closed = true
}
