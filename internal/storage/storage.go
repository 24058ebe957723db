// Package storage persists what the crypto core hands it: account
// records (salt, verifier, KDF costs) and sealed envelopes as opaque
// byte blobs. It never sees a password, a raw key, or plaintext.
package storage

import (
	"context"
	"errors"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrExists   = errors.New("storage: already exists")

	// ErrIncompleteRotation rejects a rotation commit whose wrap set
	// does not cover every stored envelope. Committing such a batch
	// would leave items wrapped under a MEK the new verifier can no
	// longer derive.
	ErrIncompleteRotation = errors.New("storage: rotation does not cover every stored envelope")
)

// Account is the per-identity record consumed by enrollment and login.
// Verifier is the SRP verifier; Salt feeds key derivation on the
// client; KDF pins the cost parameters the salt was enrolled with.
type Account struct {
	Identity string
	Salt     []byte
	Verifier []byte
	KDF      crypto.KDFParams
}

// EnvelopeRecord is one sealed vault item. Data is the variable-length
// nonce||ciphertext||tag blob; WrappedKey is the fixed 60-byte
// nonce||ciphertext||tag wrapped-key blob.
type EnvelopeRecord struct {
	ID         string
	Kind       string
	Data       []byte
	WrappedKey []byte
	Created    int64
	Updated    int64
	Version    int
}

// Rewrap replaces the wrapped-key blob of one envelope during master
// password rotation. Data blobs are never touched.
type Rewrap struct {
	ID         string
	WrappedKey []byte
}

type AccountStore interface {
	PutAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, identity string) (Account, error)
}

type EnvelopeStore interface {
	PutEnvelope(ctx context.Context, identity string, rec EnvelopeRecord) error
	GetEnvelope(ctx context.Context, identity, id string) (EnvelopeRecord, error)
	DeleteEnvelope(ctx context.Context, identity, id string) error
	ListEnvelopes(ctx context.Context, identity string) ([]EnvelopeRecord, error)

	// CommitRotation installs the post-rotation account record and the
	// full set of rewrapped keys in one atomic step. A concurrent
	// reader observes either every old wrap with the old verifier or
	// every new wrap with the new verifier; mixed states must be
	// unreachable. A batch naming an unknown envelope fails with
	// ErrNotFound; one that leaves any stored envelope uncovered fails
	// with ErrIncompleteRotation. Implementations that cannot provide
	// this must not implement the interface.
	CommitRotation(ctx context.Context, acct Account, wraps []Rewrap) error
}

// Store is the full storage collaborator surface the vault service
// wires against.
type Store interface {
	AccountStore
	EnvelopeStore
}
