package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/archwes/ZeroGuard-sub001/internal/auth"
	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
)

// envelopeWire is the sealed item as it crosses the API: still opaque,
// []byte fields travel base64 encoded.
type envelopeWire struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Data       []byte `json:"data"`
	WrappedKey []byte `json:"wrapped_key"`
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Version    int    `json:"version"`
}

func toWire(rec storage.EnvelopeRecord) envelopeWire {
	return envelopeWire{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Data:       rec.Data,
		WrappedKey: rec.WrappedKey,
		Created:    rec.Created,
		Updated:    rec.Updated,
		Version:    rec.Version,
	}
}

func (e envelopeWire) record() storage.EnvelopeRecord {
	return storage.EnvelopeRecord{
		ID:         e.ID,
		Kind:       e.Kind,
		Data:       e.Data,
		WrappedKey: e.WrappedKey,
		Created:    e.Created,
		Updated:    e.Updated,
		Version:    e.Version,
	}
}

func validEnvelope(e envelopeWire) bool {
	if e.ID == "" || len(e.ID) > 128 || len(e.Kind) > 64 {
		return false
	}
	if len(e.WrappedKey) != crypto.WrappedKeyLen {
		return false
	}
	return len(e.Data) >= crypto.NonceSize+crypto.TagSize
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.MustClaims(r)
	if err != nil {
		invalidCredentials(w)
		return
	}
	if !s.rlItemIP.allow(clientIP(r)) {
		tooMany(w, 10)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recs, err := s.store.ListEnvelopes(r.Context(), claims.Sub)
	if err != nil {
		s.logger.Printf("list %q: %v", claims.Sub, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	kind := r.URL.Query().Get("kind")
	out := make([]envelopeWire, 0, len(recs))
	for _, rec := range recs {
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, toWire(rec))
	}
	writeJSON(w, out)
}

func (s *Server) handleItemByID(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.MustClaims(r)
	if err != nil {
		invalidCredentials(w)
		return
	}
	if !s.rlItemIP.allow(clientIP(r)) {
		tooMany(w, 10)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.GetEnvelope(r.Context(), claims.Sub, id)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, toWire(rec))

	case http.MethodPut:
		var e envelopeWire
		if !readJSON(w, r, &e) {
			return
		}
		e.ID = id
		if !validEnvelope(e) {
			http.Error(w, "malformed envelope", http.StatusBadRequest)
			return
		}
		if err := s.store.PutEnvelope(r.Context(), claims.Sub, e.record()); err != nil {
			s.logger.Printf("put %q/%q: %v", claims.Sub, id, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]bool{"stored": true})

	case http.MethodDelete:
		err := s.store.DeleteEnvelope(r.Context(), claims.Sub, id)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.logger.Printf("delete %q/%q: %v", claims.Sub, id, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
