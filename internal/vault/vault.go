// Package vault ties the crypto core to its collaborators: accounts
// with their SRP enrollment records, sealed items, and master-password
// rotation. The service itself never holds key material between calls;
// everything derived lives in the caller's session.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"regexp"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/rotation"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/srp"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
)

var (
	ErrInvalidIdentity = errors.New("vault: invalid identity")
	ErrIdentityTaken   = errors.New("vault: identity already enrolled")
	ErrBadEnrollment   = errors.New("vault: malformed enrollment record")
)

var reIdentity = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]{2,63}$`)

type Service struct {
	store storage.Store
	kdf   crypto.KDFParams
}

func NewService(store storage.Store) *Service {
	return &Service{store: store, kdf: crypto.DefaultKDF()}
}

// NewServiceWithKDF exists for tests, which cannot afford the 64 MiB
// production parameters on every derivation.
func NewServiceWithKDF(store storage.Store, p crypto.KDFParams) *Service {
	return &Service{store: store, kdf: p}
}

// EnrollKDF reports the cost parameters new accounts enroll under.
func (s *Service) EnrollKDF() crypto.KDFParams { return s.kdf }

// NewEnrollment builds the account record for a new identity on the
// client side: a fresh salt, the KDF cost parameters it was derived
// under, and the SRP verifier computed from the AK half. The password
// never appears in the record, and every derived key is wiped before
// NewEnrollment returns.
func NewEnrollment(identity string, password []byte, kdf crypto.KDFParams) (storage.Account, error) {
	if !reIdentity.MatchString(identity) {
		crypto.Zero(password)
		return storage.Account{}, ErrInvalidIdentity
	}
	salt := make([]byte, crypto.MinSaltLen)
	if _, err := rand.Read(salt); err != nil {
		crypto.Zero(password)
		return storage.Account{}, err
	}
	keys, err := crypto.DeriveKeys(password, salt, kdf)
	if err != nil {
		return storage.Account{}, err
	}
	defer keys.Wipe()

	verifier := srp.ComputeVerifier(identity, &keys.AK, salt)
	return storage.Account{
		Identity: identity,
		Salt:     salt,
		Verifier: verifier,
		KDF:      kdf,
	}, nil
}

// EnrollRecord validates and persists a client-produced enrollment
// record. This is the only enrollment surface the server side ever
// runs: it sees salt and verifier, never a password.
func (s *Service) EnrollRecord(ctx context.Context, acct storage.Account) error {
	if !reIdentity.MatchString(acct.Identity) {
		return ErrInvalidIdentity
	}
	if len(acct.Salt) < crypto.MinSaltLen || len(acct.Verifier) == 0 {
		return ErrBadEnrollment
	}
	if acct.KDF.M == 0 || acct.KDF.T == 0 || acct.KDF.P == 0 {
		return ErrBadEnrollment
	}
	if _, err := s.store.GetAccount(ctx, acct.Identity); err == nil {
		return ErrIdentityTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.store.PutAccount(ctx, acct)
}

// Enroll composes NewEnrollment and EnrollRecord for deployments where
// client and store live in the same process.
func (s *Service) Enroll(ctx context.Context, identity string, password []byte) error {
	acct, err := NewEnrollment(identity, password, s.kdf)
	if err != nil {
		return err
	}
	return s.EnrollRecord(ctx, acct)
}

// Login describes the enrollment parameters a client needs to run its
// side of the handshake.
type Login struct {
	Identity string
	Salt     []byte
	KDF      crypto.KDFParams
	SRP      *srp.Server
}

// NewLogin loads the account record for a claimed identity and primes
// the server role of one handshake attempt. The caller drives the SRP
// exchange and must Close the returned engine whatever the outcome.
func (s *Service) NewLogin(ctx context.Context, identity string) (*Login, error) {
	acct, err := s.store.GetAccount(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &Login{
		Identity: identity,
		Salt:     append([]byte(nil), acct.Salt...),
		KDF:      acct.KDF,
		SRP:      srp.NewServer(identity, acct.Salt, acct.Verifier),
	}, nil
}

// RotateMaster re-enrolls an identity under a new master password. It
// verifies the old password against the stored verifier, rewraps every
// item key through the rotation coordinator, and commits the new salt,
// verifier, and wraps in the store's single atomic step. Item data
// blobs are never read, let alone rewritten.
//
// On success the session adopts the new MEK; on any failure the stored
// state is untouched and the session keeps the old one.
func (s *Service) RotateMaster(ctx context.Context, sess *session.Session, oldPassword, newPassword []byte) error {
	identity := sess.Identity()
	acct, err := s.store.GetAccount(ctx, identity)
	if err != nil {
		crypto.Zero(oldPassword)
		crypto.Zero(newPassword)
		return err
	}

	oldKeys, err := crypto.DeriveKeys(oldPassword, acct.Salt, acct.KDF)
	if err != nil {
		crypto.Zero(newPassword)
		return err
	}
	defer oldKeys.Wipe()

	oldVerifier := srp.ComputeVerifier(identity, &oldKeys.AK, acct.Salt)
	if subtle.ConstantTimeCompare(oldVerifier, acct.Verifier) != 1 {
		crypto.Zero(newPassword)
		return crypto.ErrAuthentication
	}

	newSalt := make([]byte, crypto.MinSaltLen)
	if _, err := rand.Read(newSalt); err != nil {
		crypto.Zero(newPassword)
		return err
	}
	newKeys, err := crypto.DeriveKeys(newPassword, newSalt, s.kdf)
	if err != nil {
		return err
	}
	defer newKeys.Wipe()

	records, err := s.store.ListEnvelopes(ctx, identity)
	if err != nil {
		return err
	}
	batch := make([]rotation.Envelope, 0, len(records))
	for _, rec := range records {
		var env crypto.SealedEnvelope
		if err := crypto.ParseWrappedKey(rec.WrappedKey, &env); err != nil {
			return err
		}
		batch = append(batch, rotation.Envelope{ID: rec.ID, Envelope: env})
	}

	rewrapped, err := rotation.Rotate(ctx, &oldKeys.MEK, &newKeys.MEK, batch)
	if err != nil {
		return err
	}

	wraps := make([]storage.Rewrap, len(rewrapped))
	for i, rw := range rewrapped {
		var env crypto.SealedEnvelope
		env.WrappedKey, env.KeyNonce, env.KeyTag = rw.WrappedKey, rw.KeyNonce, rw.KeyTag
		wraps[i] = storage.Rewrap{ID: rw.ID, WrappedKey: crypto.PackWrappedKey(env)}
	}

	newVerifier := srp.ComputeVerifier(identity, &newKeys.AK, newSalt)
	if err := s.store.CommitRotation(ctx, storage.Account{
		Identity: identity,
		Salt:     newSalt,
		Verifier: newVerifier,
		KDF:      s.kdf,
	}, wraps); err != nil {
		return err
	}

	mek := newKeys.MEK
	return sess.ReplaceMEK(&mek)
}
