package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
)

// FileStore persists one JSON document per identity. Keeping account
// and envelopes in a single file makes rotation commit a temp-write
// plus rename, which is the atomicity the rotation contract demands.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileStore{dir: dir}
}

type fileAccount struct {
	Identity string `json:"identity"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
	KDFM     uint32 `json:"kdf_m"`
	KDFT     uint32 `json:"kdf_t"`
	KDFP     uint8  `json:"kdf_p"`
}

type fileEnvelope struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Data       []byte `json:"data"`
	WrappedKey []byte `json:"wrapped_key"`
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Version    int    `json:"version"`
}

type fileDoc struct {
	Account   *fileAccount            `json:"account"`
	Envelopes map[string]fileEnvelope `json:"envelopes"`
}

func (f *FileStore) path(identity string) string {
	return filepath.Join(f.dir, identity+".json")
}

func (f *FileStore) load(identity string) (fileDoc, error) {
	doc := fileDoc{Envelopes: map[string]fileEnvelope{}}
	b, err := os.ReadFile(f.path(identity))
	if os.IsNotExist(err) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, err
	}
	if doc.Envelopes == nil {
		doc.Envelopes = map[string]fileEnvelope{}
	}
	return doc, nil
}

// save writes the document to a temp file in the same directory and
// renames it into place, so readers never observe a partial write.
func (f *FileStore) save(identity string, doc fileDoc) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, identity+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(identity))
}

func (f *FileStore) PutAccount(_ context.Context, a Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(a.Identity)
	if err != nil && err != ErrNotFound {
		return err
	}
	doc.Account = &fileAccount{
		Identity: a.Identity,
		Salt:     a.Salt,
		Verifier: a.Verifier,
		KDFM:     a.KDF.M,
		KDFT:     a.KDF.T,
		KDFP:     a.KDF.P,
	}
	return f.save(a.Identity, doc)
}

func (f *FileStore) GetAccount(_ context.Context, identity string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(identity)
	if err != nil {
		return Account{}, err
	}
	if doc.Account == nil {
		return Account{}, ErrNotFound
	}
	return Account{
		Identity: doc.Account.Identity,
		Salt:     doc.Account.Salt,
		Verifier: doc.Account.Verifier,
		KDF:      crypto.KDFParams{M: doc.Account.KDFM, T: doc.Account.KDFT, P: doc.Account.KDFP},
	}, nil
}

func (f *FileStore) PutEnvelope(_ context.Context, identity string, rec EnvelopeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(identity)
	if err != nil {
		return err
	}
	doc.Envelopes[rec.ID] = fileEnvelope{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Data:       rec.Data,
		WrappedKey: rec.WrappedKey,
		Created:    rec.Created,
		Updated:    rec.Updated,
		Version:    rec.Version,
	}
	return f.save(identity, doc)
}

func (f *FileStore) GetEnvelope(_ context.Context, identity, id string) (EnvelopeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(identity)
	if err != nil {
		return EnvelopeRecord{}, err
	}
	e, ok := doc.Envelopes[id]
	if !ok {
		return EnvelopeRecord{}, ErrNotFound
	}
	return recordFromFile(e), nil
}

func (f *FileStore) DeleteEnvelope(_ context.Context, identity, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(identity)
	if err != nil {
		return err
	}
	if _, ok := doc.Envelopes[id]; !ok {
		return ErrNotFound
	}
	delete(doc.Envelopes, id)
	return f.save(identity, doc)
}

func (f *FileStore) ListEnvelopes(_ context.Context, identity string) ([]EnvelopeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(identity)
	if err != nil {
		return nil, err
	}
	out := make([]EnvelopeRecord, 0, len(doc.Envelopes))
	for _, e := range doc.Envelopes {
		out = append(out, recordFromFile(e))
	}
	return out, nil
}

func (f *FileStore) CommitRotation(_ context.Context, acct Account, wraps []Rewrap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load(acct.Identity)
	if err != nil {
		return err
	}
	covered := make(map[string]struct{}, len(wraps))
	for _, w := range wraps {
		if _, ok := doc.Envelopes[w.ID]; !ok {
			return ErrNotFound
		}
		covered[w.ID] = struct{}{}
	}
	if len(covered) != len(doc.Envelopes) {
		return ErrIncompleteRotation
	}
	for _, w := range wraps {
		e := doc.Envelopes[w.ID]
		e.WrappedKey = w.WrappedKey
		doc.Envelopes[w.ID] = e
	}
	doc.Account = &fileAccount{
		Identity: acct.Identity,
		Salt:     acct.Salt,
		Verifier: acct.Verifier,
		KDFM:     acct.KDF.M,
		KDFT:     acct.KDF.T,
		KDFP:     acct.KDF.P,
	}
	return f.save(acct.Identity, doc)
}

func recordFromFile(e fileEnvelope) EnvelopeRecord {
	return EnvelopeRecord{
		ID:         e.ID,
		Kind:       e.Kind,
		Data:       e.Data,
		WrappedKey: e.WrappedKey,
		Created:    e.Created,
		Updated:    e.Updated,
		Version:    e.Version,
	}
}
