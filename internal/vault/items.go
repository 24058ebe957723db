package vault

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
)

// ItemMeta is the listable, never-encrypted surface of an item.
type ItemMeta struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Version int    `json:"version"`
}

// AddItem seals payload under a fresh item key wrapped by the session
// MEK and persists the resulting envelope.
func (s *Service) AddItem(ctx context.Context, sess *session.Session, kind string, payload []byte) (string, error) {
	mek, err := sess.MEK()
	if err != nil {
		return "", err
	}
	env, err := crypto.SealItem(payload, mek)
	if err != nil {
		return "", err
	}
	now := time.Now().Unix()
	rec := storage.EnvelopeRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		Data:       crypto.PackData(env),
		WrappedKey: crypto.PackWrappedKey(env),
		Created:    now,
		Updated:    now,
		Version:    1,
	}
	if err := s.store.PutEnvelope(ctx, sess.Identity(), rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// GetItem opens one envelope and returns its plaintext payload.
func (s *Service) GetItem(ctx context.Context, sess *session.Session, id string) ([]byte, error) {
	mek, err := sess.MEK()
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetEnvelope(ctx, sess.Identity(), id)
	if err != nil {
		return nil, err
	}
	env, err := parseRecord(rec)
	if err != nil {
		return nil, err
	}
	return crypto.OpenItem(env, mek)
}

// UpdateItem replaces an item's payload. The envelope is sealed from
// scratch: a fresh item key, fresh nonces, bumped version.
func (s *Service) UpdateItem(ctx context.Context, sess *session.Session, id string, payload []byte) error {
	mek, err := sess.MEK()
	if err != nil {
		return err
	}
	old, err := s.store.GetEnvelope(ctx, sess.Identity(), id)
	if err != nil {
		return err
	}
	env, err := crypto.SealItem(payload, mek)
	if err != nil {
		return err
	}
	rec := storage.EnvelopeRecord{
		ID:         id,
		Kind:       old.Kind,
		Data:       crypto.PackData(env),
		WrappedKey: crypto.PackWrappedKey(env),
		Created:    old.Created,
		Updated:    time.Now().Unix(),
		Version:    old.Version + 1,
	}
	return s.store.PutEnvelope(ctx, sess.Identity(), rec)
}

func (s *Service) DeleteItem(ctx context.Context, sess *session.Session, id string) error {
	if _, err := sess.MEK(); err != nil {
		return err
	}
	return s.store.DeleteEnvelope(ctx, sess.Identity(), id)
}

// List returns item metadata without touching any ciphertext.
func (s *Service) List(ctx context.Context, sess *session.Session, kind string) ([]ItemMeta, error) {
	if _, err := sess.MEK(); err != nil {
		return nil, err
	}
	records, err := s.store.ListEnvelopes(ctx, sess.Identity())
	if err != nil {
		return nil, err
	}
	out := make([]ItemMeta, 0, len(records))
	for _, rec := range records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, ItemMeta{
			ID:      rec.ID,
			Kind:    rec.Kind,
			Created: rec.Created,
			Updated: rec.Updated,
			Version: rec.Version,
		})
	}
	return out, nil
}

func parseRecord(rec storage.EnvelopeRecord) (crypto.SealedEnvelope, error) {
	var env crypto.SealedEnvelope
	if err := crypto.ParseData(rec.Data, &env); err != nil {
		return env, err
	}
	if err := crypto.ParseWrappedKey(rec.WrappedKey, &env); err != nil {
		return env, err
	}
	return env, nil
}
