package main

import (
	"context"
	"errors"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/srp"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
	"github.com/archwes/ZeroGuard-sub001/internal/vault"
)

// localVault is the embedded engine: the same crypto core the daemon
// fronts, run directly against an on-disk store with no server in
// between.
type localVault struct {
	svc  *vault.Service
	sess *session.Session
}

func (lv *localVault) Close() { lv.sess.Close() }

// openLocal authenticates against the local store with the same SRP
// handshake a remote login runs, so a wrong password fails identically
// in both modes. The password is consumed either way.
func openLocal(ctx context.Context, dir, identity string, password []byte) (*localVault, error) {
	if identity == "" {
		crypto.Zero(password)
		return nil, errors.New("--identity required")
	}
	svc := vault.NewService(storage.NewFileStore(dir))
	login, err := svc.NewLogin(ctx, identity)
	if err != nil {
		crypto.Zero(password)
		return nil, err
	}
	defer login.SRP.Close()

	keys, err := crypto.DeriveKeys(password, login.Salt, login.KDF)
	if err != nil {
		return nil, err
	}
	cl := srp.NewClient(identity, &keys.AK)
	defer cl.Close()

	bigA, err := cl.Start()
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	bigB, err := login.SRP.Ephemeral(bigA)
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	m1, err := cl.SetServerEphemeral(login.Salt, bigB)
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	m2, err := login.SRP.VerifyProof(m1)
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	if err := cl.VerifyServerProof(m2); err != nil {
		keys.Wipe()
		return nil, err
	}

	srpKey, err := cl.Key()
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	sess, err := session.New(identity, &keys.MEK, srpKey)
	if err != nil {
		keys.Wipe()
		return nil, err
	}
	crypto.Zero(keys.AK[:])
	return &localVault{svc: svc, sess: sess}, nil
}

func openLocalPrompt(ctx context.Context) (*localVault, error) {
	pw, err := promptSecret("Master password: ")
	if err != nil {
		return nil, err
	}
	return openLocal(ctx, flagStore, flagIdentity, pw)
}
