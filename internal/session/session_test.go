package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func newTestSession(t *testing.T) (*Session, [32]byte) {
	t.Helper()
	var mek [32]byte
	if _, err := rand.Read(mek[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	want := mek
	srpKey := make([]byte, 32)
	if _, err := rand.Read(srpKey); err != nil {
		t.Fatalf("rand: %v", err)
	}
	s, err := New("alice", &mek, srpKey)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s, want
}

func TestSessionAdoptsAndWipesInputs(t *testing.T) {
	var mek [32]byte
	if _, err := rand.Read(mek[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	want := mek
	srpKey := make([]byte, 32)
	if _, err := rand.Read(srpKey); err != nil {
		t.Fatalf("rand: %v", err)
	}

	s, err := New("alice", &mek, srpKey)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	if mek != ([32]byte{}) {
		t.Fatal("caller MEK buffer not wiped on hand-off")
	}
	if !bytes.Equal(srpKey, make([]byte, 32)) {
		t.Fatal("caller SRP key buffer not wiped on hand-off")
	}
	got, err := s.MEK()
	if err != nil {
		t.Fatalf("mek: %v", err)
	}
	if *got != want {
		t.Fatal("session MEK differs from adopted value")
	}
}

func TestTokenKeyDerivedFromSRPKey(t *testing.T) {
	s1, _ := newTestSession(t)
	defer s1.Close()
	s2, _ := newTestSession(t)
	defer s2.Close()

	k1, err := s1.TokenKey()
	if err != nil {
		t.Fatalf("token key: %v", err)
	}
	k2, err := s2.TokenKey()
	if err != nil {
		t.Fatalf("token key: %v", err)
	}
	if bytes.Equal(k1, k2) {
		t.Fatal("token keys must differ across sessions")
	}
}

func TestTokenBindingKeyDeterministic(t *testing.T) {
	srpKey := make([]byte, 32)
	if _, err := rand.Read(srpKey); err != nil {
		t.Fatalf("rand: %v", err)
	}
	k1, err := TokenBindingKey(append([]byte(nil), srpKey...))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := TokenBindingKey(append([]byte(nil), srpKey...))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if k1 != k2 {
		t.Fatal("both ends must derive the same binding key from K")
	}

	consumed := append([]byte(nil), srpKey...)
	if _, err := TokenBindingKey(consumed); err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !bytes.Equal(consumed, make([]byte, 32)) {
		t.Fatal("input buffer not wiped")
	}
}

func TestCloseBlocksAccess(t *testing.T) {
	s, _ := newTestSession(t)
	s.Close()
	if _, err := s.MEK(); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if _, err := s.TokenKey(); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := s.ReplaceMEK(&[32]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	s.Close() // idempotent
}

func TestCloseWipesMEK(t *testing.T) {
	s, _ := newTestSession(t)
	mek, err := s.MEK()
	if err != nil {
		t.Fatalf("mek: %v", err)
	}
	s.Close()
	if *mek != ([32]byte{}) {
		t.Fatal("MEK bytes survive Close")
	}
}

func TestReplaceMEK(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Close()

	var next [32]byte
	if _, err := rand.Read(next[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	want := next
	if err := s.ReplaceMEK(&next); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if next != ([32]byte{}) {
		t.Fatal("caller buffer not wiped on replace")
	}
	got, err := s.MEK()
	if err != nil {
		t.Fatalf("mek: %v", err)
	}
	if *got != want {
		t.Fatal("replacement MEK not installed")
	}
}
