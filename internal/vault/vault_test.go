package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
	"github.com/archwes/ZeroGuard-sub001/internal/session"
	"github.com/archwes/ZeroGuard-sub001/internal/srp"
	"github.com/archwes/ZeroGuard-sub001/internal/storage"
)

func testService() (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewServiceWithKDF(store, crypto.KDFParams{M: 64, T: 1, P: 1}), store
}

// login drives a full SRP exchange for identity and returns an
// authenticated session, exactly as the transport layer would.
func login(t *testing.T, svc *Service, identity, password string) *session.Session {
	t.Helper()
	ctx := context.Background()

	lg, err := svc.NewLogin(ctx, identity)
	if err != nil {
		t.Fatalf("new login: %v", err)
	}
	defer lg.SRP.Close()

	keys, err := crypto.DeriveKeys([]byte(password), lg.Salt, lg.KDF)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	defer keys.Wipe()

	cli := srp.NewClient(identity, &keys.AK)
	defer cli.Close()

	a, err := cli.Start()
	if err != nil {
		t.Fatalf("client start: %v", err)
	}
	b, err := lg.SRP.Ephemeral(a)
	if err != nil {
		t.Fatalf("server ephemeral: %v", err)
	}
	m1, err := cli.SetServerEphemeral(lg.SRP.Salt(), b)
	if err != nil {
		t.Fatalf("client step: %v", err)
	}
	m2, err := lg.SRP.VerifyProof(m1)
	if err != nil {
		t.Fatalf("server verify: %v", err)
	}
	if err := cli.VerifyServerProof(m2); err != nil {
		t.Fatalf("client verify: %v", err)
	}

	srpKey, err := cli.Key()
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	mek := keys.MEK
	sess, err := session.New(identity, &mek, srpKey)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return sess
}

func TestEnrollValidation(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if err := svc.Enroll(ctx, "x", []byte("pw")); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("short identity: want ErrInvalidIdentity, got %v", err)
	}
	if err := svc.Enroll(ctx, "../etc/passwd", []byte("pw")); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("path identity: want ErrInvalidIdentity, got %v", err)
	}
	if err := svc.Enroll(ctx, "alice", []byte("Tr0ub4dor&3")); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := svc.Enroll(ctx, "alice", []byte("Tr0ub4dor&3")); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("re-enroll: want ErrIdentityTaken, got %v", err)
	}
}

func TestEnrollRecordRejectsMalformed(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	acct, err := NewEnrollment("alice", []byte("Tr0ub4dor&3"), crypto.KDFParams{M: 64, T: 1, P: 1})
	if err != nil {
		t.Fatalf("new enrollment: %v", err)
	}

	short := acct
	short.Salt = acct.Salt[:crypto.MinSaltLen-1]
	if err := svc.EnrollRecord(ctx, short); !errors.Is(err, ErrBadEnrollment) {
		t.Fatalf("short salt: want ErrBadEnrollment, got %v", err)
	}

	noVerifier := acct
	noVerifier.Verifier = nil
	if err := svc.EnrollRecord(ctx, noVerifier); !errors.Is(err, ErrBadEnrollment) {
		t.Fatalf("empty verifier: want ErrBadEnrollment, got %v", err)
	}

	zeroCost := acct
	zeroCost.KDF = crypto.KDFParams{}
	if err := svc.EnrollRecord(ctx, zeroCost); !errors.Is(err, ErrBadEnrollment) {
		t.Fatalf("unset costs: want ErrBadEnrollment, got %v", err)
	}

	if err := svc.EnrollRecord(ctx, acct); err != nil {
		t.Fatalf("well-formed record rejected: %v", err)
	}
}

func TestEnrollWipesPassword(t *testing.T) {
	svc, _ := testService()
	pw := []byte("Tr0ub4dor&3")
	if err := svc.Enroll(context.Background(), "alice", pw); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if !bytes.Equal(pw, make([]byte, len(pw))) {
		t.Fatal("password buffer not wiped")
	}
}

func TestEnrollStoresNoSecrets(t *testing.T) {
	svc, store := testService()
	ctx := context.Background()
	if err := svc.Enroll(ctx, "alice", []byte("Tr0ub4dor&3")); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	acct, err := store.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if len(acct.Salt) < crypto.MinSaltLen {
		t.Fatalf("salt too short: %d", len(acct.Salt))
	}
	if bytes.Contains(acct.Verifier, []byte("Tr0ub4dor&3")) {
		t.Fatal("password bytes visible in stored record")
	}
}

func TestLoginAndItemRoundTrip(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()
	if err := svc.Enroll(ctx, "alice", []byte("Tr0ub4dor&3")); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	sess := login(t, svc, "alice", "Tr0ub4dor&3")
	defer sess.Close()

	payload := []byte(`{"user":"x"}`)
	id, err := svc.AddItem(ctx, sess, "login", payload)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := svc.GetItem(ctx, sess, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}

	metas, err := svc.List(ctx, sess, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != id || metas[0].Kind != "login" {
		t.Fatalf("unexpected metas %+v", metas)
	}

	if err := svc.UpdateItem(ctx, sess, id, []byte(`{"user":"y"}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = svc.GetItem(ctx, sess, id)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if string(got) != `{"user":"y"}` {
		t.Fatal("update not visible")
	}

	if err := svc.DeleteItem(ctx, sess, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetItem(ctx, sess, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestWrongPasswordLoginFails(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()
	if err := svc.Enroll(ctx, "alice", []byte("Tr0ub4dor&3")); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	lg, err := svc.NewLogin(ctx, "alice")
	if err != nil {
		t.Fatalf("new login: %v", err)
	}
	defer lg.SRP.Close()

	keys, err := crypto.DeriveKeys([]byte("wrong password"), lg.Salt, lg.KDF)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	defer keys.Wipe()

	cli := srp.NewClient("alice", &keys.AK)
	defer cli.Close()
	a, _ := cli.Start()
	b, err := lg.SRP.Ephemeral(a)
	if err != nil {
		t.Fatalf("ephemeral: %v", err)
	}
	m1, err := cli.SetServerEphemeral(lg.SRP.Salt(), b)
	if err != nil {
		t.Fatalf("client step: %v", err)
	}
	if _, err := lg.SRP.VerifyProof(m1); !errors.Is(err, srp.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
	if lg.SRP.State() != srp.StateFailed {
		t.Fatalf("server state %v, want FAILED", lg.SRP.State())
	}
}

func TestUnknownIdentityLogin(t *testing.T) {
	svc, _ := testService()
	if _, err := svc.NewLogin(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestItemOpsRequireLiveSession(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()
	if err := svc.Enroll(ctx, "alice", []byte("Tr0ub4dor&3")); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	sess := login(t, svc, "alice", "Tr0ub4dor&3")
	sess.Close()

	if _, err := svc.AddItem(ctx, sess, "login", []byte("x")); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("add on closed session: want ErrClosed, got %v", err)
	}
	if _, err := svc.List(ctx, sess, ""); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("list on closed session: want ErrClosed, got %v", err)
	}
}
