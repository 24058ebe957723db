package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/archwes/ZeroGuard-sub001/internal/audit"
	"github.com/archwes/ZeroGuard-sub001/internal/auth"
	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
	"github.com/archwes/ZeroGuard-sub001/internal/vault"
)

// bindingHeader carries the hex token-binding key on requests whose
// token claims one.
const bindingHeader = "X-Binding-Key"

type kdfWire struct {
	M uint32 `json:"m_kib"`
	T uint32 `json:"t"`
	P uint8  `json:"p"`
}

type enrollReq struct {
	Identity string  `json:"identity"`
	Salt     []byte  `json:"salt"`
	Verifier []byte  `json:"verifier"`
	KDF      kdfWire `json:"kdf"`
}

// handleEnroll accepts a client-produced enrollment record. The server
// only ever sees salt and verifier; the password and the derived keys
// never leave the client.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlAuthIP.allow(clientIP(r)) {
		tooMany(w, 60)
		return
	}

	var req enrollReq
	if !readJSON(w, r, &req) {
		return
	}

	err := s.svc.EnrollRecord(r.Context(), storage.Account{
		Identity: req.Identity,
		Salt:     req.Salt,
		Verifier: req.Verifier,
		KDF:      crypto.KDFParams{M: req.KDF.M, T: req.KDF.T, P: req.KDF.P},
	})
	switch {
	case errors.Is(err, vault.ErrInvalidIdentity), errors.Is(err, vault.ErrBadEnrollment):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, vault.ErrIdentityTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Printf("enroll %q: %v", req.Identity, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.audit.Record(audit.EventEnroll, req.Identity)
	writeJSONStatus(w, http.StatusCreated, map[string]bool{"enrolled": true})
}

type srpParamsResp struct {
	Salt []byte  `json:"salt"`
	KDF  kdfWire `json:"kdf"`
}

// handleSRPParams serves the salt and KDF costs a client needs before
// it can derive keys and open a handshake. An identity that was never
// enrolled gets a deterministic decoy record under the default costs,
// so the endpoint confirms nothing about enrollment.
func (s *Server) handleSRPParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlAuthIP.allow(clientIP(r)) {
		tooMany(w, 60)
		return
	}

	identity := r.URL.Query().Get("identity")
	acct, err := s.store.GetAccount(r.Context(), identity)
	if err != nil {
		mac := hmac.New(sha256.New, s.saltSecret[:])
		mac.Write([]byte(identity))
		kdf := s.svc.EnrollKDF()
		writeJSON(w, srpParamsResp{
			Salt: mac.Sum(nil)[:crypto.MinSaltLen],
			KDF:  kdfWire{M: kdf.M, T: kdf.T, P: kdf.P},
		})
		return
	}
	writeJSON(w, srpParamsResp{
		Salt: acct.Salt,
		KDF:  kdfWire{M: acct.KDF.M, T: acct.KDF.T, P: acct.KDF.P},
	})
}

type srpStartReq struct {
	Identity string `json:"identity"`
	A        []byte `json:"a"`
}

type srpStartResp struct {
	HandshakeID string  `json:"handshake_id"`
	Salt        []byte  `json:"salt"`
	KDF         kdfWire `json:"kdf"`
	B           []byte  `json:"b"`
}

func (s *Server) handleSRPStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlAuthIP.allow(clientIP(r)) {
		tooMany(w, 60)
		return
	}

	var req srpStartReq
	if !readJSON(w, r, &req) {
		return
	}
	if !s.rlAuthID.allow(req.Identity) {
		tooMany(w, 60)
		return
	}

	login, err := s.svc.NewLogin(r.Context(), req.Identity)
	if err != nil {
		s.audit.Record(audit.EventLoginFailed, req.Identity)
		invalidCredentials(w)
		return
	}

	b, err := login.SRP.Ephemeral(req.A)
	if err != nil {
		login.SRP.Close()
		s.audit.Record(audit.EventLoginFailed, req.Identity)
		invalidCredentials(w)
		return
	}

	id := uuid.NewString()
	if !s.putHandshake(id, &handshake{login: login, created: time.Now()}) {
		login.SRP.Close()
		tooMany(w, 120)
		return
	}

	writeJSON(w, srpStartResp{
		HandshakeID: id,
		Salt:        login.Salt,
		KDF:         kdfWire{M: login.KDF.M, T: login.KDF.T, P: login.KDF.P},
		B:           b,
	})
}

type srpVerifyReq struct {
	HandshakeID string `json:"handshake_id"`
	M1          []byte `json:"m1"`
}

type srpVerifyResp struct {
	M2        []byte `json:"m2"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleSRPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlAuthIP.allow(clientIP(r)) {
		tooMany(w, 60)
		return
	}

	var req srpVerifyReq
	if !readJSON(w, r, &req) {
		return
	}

	h, ok := s.takeHandshake(req.HandshakeID)
	if !ok {
		invalidCredentials(w)
		return
	}
	defer h.login.SRP.Close()

	m2, err := h.login.SRP.VerifyProof(req.M1)
	if err != nil {
		s.audit.Record(audit.EventLoginFailed, h.login.Identity)
		invalidCredentials(w)
		return
	}

	// The token carries the digest of the binding key both sides
	// derive from K. The key itself never travels; endpoints that
	// demand it get the preimage from the client's own derivation.
	k, err := h.login.SRP.Key()
	if err != nil {
		s.logger.Printf("session key %q: %v", h.login.Identity, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	bk, err := session.TokenBindingKey(k)
	if err != nil {
		s.logger.Printf("binding key %q: %v", h.login.Identity, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(bk[:])
	crypto.Zero(bk[:])

	token, exp, err := s.signer.IssueToken(h.login.Identity, []auth.Role{auth.RoleUser}, hex.EncodeToString(sum[:]))
	if err != nil {
		s.logger.Printf("issue token %q: %v", h.login.Identity, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.audit.Record(audit.EventLoginOK, h.login.Identity)
	writeJSON(w, srpVerifyResp{M2: m2, Token: token, ExpiresAt: exp.Unix()})
}

type accountResp struct {
	Identity string  `json:"identity"`
	Salt     []byte  `json:"salt"`
	Verifier []byte  `json:"verifier"`
	KDF      kdfWire `json:"kdf"`
}

// handleAccount returns the caller's own enrollment record. The
// verifier is included so a logged-in client can run rotation; it is
// never served for any other identity.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil {
		invalidCredentials(w)
		return
	}

	acct, err := s.store.GetAccount(r.Context(), claims.Sub)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, accountResp{
		Identity: acct.Identity,
		Salt:     acct.Salt,
		Verifier: acct.Verifier,
		KDF:      kdfWire{M: acct.KDF.M, T: acct.KDF.T, P: acct.KDF.P},
	})
}

type rewrapWire struct {
	ID         string `json:"id"`
	WrappedKey []byte `json:"wrapped_key"`
}

type rotateReq struct {
	Salt     []byte       `json:"salt"`
	Verifier []byte       `json:"verifier"`
	KDF      kdfWire      `json:"kdf"`
	Wraps    []rewrapWire `json:"wraps"`
}

// handleRotate commits a client-computed rotation: new salt, new
// verifier, and one rewrapped key per stored envelope, in the store's
// single atomic step. The server can't check the rewraps
// cryptographically; it checks shape and the store rejects any batch
// that does not cover every stored envelope.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, err := auth.MustClaims(r)
	if err != nil {
		invalidCredentials(w)
		return
	}

	// Rotation replaces the verifier, so a bearer token alone is not
	// enough: the caller must also present the binding key only its
	// own SRP handshake could have produced.
	bind, err := hex.DecodeString(r.Header.Get(bindingHeader))
	if err != nil || len(bind) == 0 || claims.Bind == "" {
		s.audit.Record(audit.EventRotateFailed, claims.Sub)
		invalidCredentials(w)
		return
	}
	sum := sha256.Sum256(bind)
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(claims.Bind)) != 1 {
		s.audit.Record(audit.EventRotateFailed, claims.Sub)
		invalidCredentials(w)
		return
	}

	var req rotateReq
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Salt) < crypto.MinSaltLen || len(req.Verifier) == 0 {
		http.Error(w, "malformed rotation", http.StatusBadRequest)
		return
	}
	wraps := make([]storage.Rewrap, len(req.Wraps))
	for i, rw := range req.Wraps {
		if rw.ID == "" || len(rw.WrappedKey) != crypto.WrappedKeyLen {
			http.Error(w, "malformed rotation", http.StatusBadRequest)
			return
		}
		wraps[i] = storage.Rewrap{ID: rw.ID, WrappedKey: rw.WrappedKey}
	}

	err = s.store.CommitRotation(r.Context(), storage.Account{
		Identity: claims.Sub,
		Salt:     req.Salt,
		Verifier: req.Verifier,
		KDF:      crypto.KDFParams{M: req.KDF.M, T: req.KDF.T, P: req.KDF.P},
	}, wraps)
	if err != nil {
		s.audit.Record(audit.EventRotateFailed, claims.Sub)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrIncompleteRotation) {
			http.Error(w, "rotation does not cover the stored set", http.StatusConflict)
			return
		}
		s.logger.Printf("rotate %q: %v", claims.Sub, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.audit.Record(audit.EventRotateOK, claims.Sub)
	writeJSON(w, map[string]bool{"rotated": true})
}
