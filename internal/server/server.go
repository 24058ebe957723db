// Package server is the thin HTTP collaborator around the crypto core.
// It authenticates clients with the SRP server role, stores sealed
// envelopes as opaque blobs, and commits rotations atomically. No
// master password, MEK, or plaintext ever reaches this process.
package server

import (
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/archwes/ZeroGuard-sub001/internal/audit"
	"github.com/archwes/ZeroGuard-sub001/internal/auth"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
	"github.com/archwes/ZeroGuard-sub001/internal/vault"
)

type Server struct {
	cfg Config

	mux    *http.ServeMux
	svc    *vault.Service
	store  storage.Store
	signer *auth.JWTSigner
	audit  *audit.Log
	logger *log.Logger

	// keys deterministic decoy salts for identities that were never
	// enrolled, so srp/params cannot confirm enrollment
	saltSecret [32]byte

	mu         sync.Mutex
	handshakes map[string]*handshake

	rlAuthIP *multiLimiter
	rlAuthID *multiLimiter
	rlItemIP *multiLimiter
}

// handshake is one pending SRP exchange between srp/start and
// srp/verify. It expires after cfg.HandshakeTTL whatever its state.
type handshake struct {
	login   *vault.Login
	created time.Time
}

func New(cfg Config, st storage.Store) (*Server, error) {
	cfg.setDefaults()
	if st == nil {
		return nil, errors.New("server: storage required")
	}

	priv, _, err := auth.GenerateEd25519()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		svc:        vault.NewService(st),
		store:      st,
		signer:     auth.NewJWTSigner(priv, cfg.JWTIssuer, cfg.TokenTTL),
		audit:      audit.New(),
		logger:     log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile),
		handshakes: map[string]*handshake{},
	}
	if _, err := rand.Read(s.saltSecret[:]); err != nil {
		return nil, err
	}

	s.rlAuthIP = newMultiLimiter(perWindow(10, time.Minute), 10, time.Hour)
	s.rlAuthID = newMultiLimiter(perWindow(5, time.Minute), 5, time.Hour)
	s.rlItemIP = newMultiLimiter(perWindow(120, time.Minute), 60, 10*time.Minute)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/enroll", s.handleEnroll)
	s.mux.HandleFunc("/api/srp/params", s.handleSRPParams)
	s.mux.HandleFunc("/api/srp/start", s.handleSRPStart)
	s.mux.HandleFunc("/api/srp/verify", s.handleSRPVerify)

	s.mux.HandleFunc("/api/account", s.handleAccount)
	s.mux.HandleFunc("/api/rotate", s.handleRotate)
	s.mux.HandleFunc("/api/items", s.handleItems)
	s.mux.HandleFunc("/api/items/", s.handleItemByID)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/") && !s.isPublic(r.URL.Path) {
		auth.AuthRequired(s.signer)(s.mux).ServeHTTP(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

// Audit exposes the tamper-evident event log for operators.
func (s *Server) Audit() *audit.Log { return s.audit }

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health", "/api/health", "/api/enroll", "/api/srp/params", "/api/srp/start", "/api/srp/verify":
		return true
	default:
		return false
	}
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Binding-Key")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// putHandshake registers a pending exchange, evicting expired ones
// first. Returns false when the table is at capacity.
func (s *Server) putHandshake(id string, h *handshake) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, hs := range s.handshakes {
		if now.Sub(hs.created) > s.cfg.HandshakeTTL {
			hs.login.SRP.Close()
			delete(s.handshakes, k)
		}
	}
	if len(s.handshakes) >= s.cfg.MaxHandshakes {
		return false
	}
	s.handshakes[id] = h
	return true
}

// takeHandshake removes and returns a pending exchange. Each handshake
// id is single use; a second verify attempt starts from scratch.
func (s *Server) takeHandshake(id string) (*handshake, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handshakes[id]
	if !ok {
		return nil, false
	}
	delete(s.handshakes, id)
	if time.Since(h.created) > s.cfg.HandshakeTTL {
		h.login.SRP.Close()
		return nil, false
	}
	return h, true
}
