package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func randKey(t *testing.T) *[32]byte {
	t.Helper()
	var k [32]byte
	copy(k[:], randBytes(t, 32))
	return &k
}

func TestSealOpenRoundTrip(t *testing.T) {
	mek := randKey(t)
	pt := randBytes(t, 4096)
	env, err := SealItem(pt, mek)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := OpenItem(env, mek)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, out) {
		t.Fatal("plaintext mismatch")
	}
}

func TestSealOpenJSONScenario(t *testing.T) {
	mek := randKey(t)
	pt := []byte(`{"user":"x"}`)
	env, err := SealItem(pt, mek)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := OpenItem(env, mek)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, out) {
		t.Fatal("plaintext mismatch")
	}

	// Corrupting the last byte of the data tag must fail the open.
	env.DataTag[len(env.DataTag)-1] ^= 0x01
	if _, err := OpenItem(env, mek); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
}

func TestOpenWrongMEK(t *testing.T) {
	env, err := SealItem([]byte("secret"), randKey(t))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenItem(env, randKey(t)); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
}

func TestOpenSingleBitTamper(t *testing.T) {
	mek := randKey(t)
	env, err := SealItem([]byte("tamper-evident"), mek)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	fields := map[string]*[]byte{
		"ciphertext": &env.Ciphertext,
		"dataTag":    &env.DataTag,
		"wrappedKey": &env.WrappedKey,
		"keyTag":     &env.KeyTag,
		"dataNonce":  &env.DataNonce,
		"keyNonce":   &env.KeyNonce,
	}
	for name, f := range fields {
		mut := env
		cp := append([]byte(nil), *f...)
		cp[0] ^= 0x01
		switch name {
		case "ciphertext":
			mut.Ciphertext = cp
		case "dataTag":
			mut.DataTag = cp
		case "wrappedKey":
			mut.WrappedKey = cp
		case "keyTag":
			mut.KeyTag = cp
		case "dataNonce":
			mut.DataNonce = cp
		case "keyNonce":
			mut.KeyNonce = cp
		}
		pt, err := OpenItem(mut, mek)
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("%s tamper: want ErrAuthentication, got %v", name, err)
		}
		if pt != nil {
			t.Fatalf("%s tamper: plaintext bytes leaked", name)
		}
	}
}

func TestSealFreshNoncesAndKeys(t *testing.T) {
	mek := randKey(t)
	e1, err := SealItem([]byte("data"), mek)
	if err != nil {
		t.Fatalf("seal1: %v", err)
	}
	e2, err := SealItem([]byte("data"), mek)
	if err != nil {
		t.Fatalf("seal2: %v", err)
	}
	if bytes.Equal(e1.DataNonce, e2.DataNonce) {
		t.Fatal("expected distinct data nonces")
	}
	if bytes.Equal(e1.KeyNonce, e2.KeyNonce) {
		t.Fatal("expected distinct key nonces")
	}
	if bytes.Equal(e1.WrappedKey, e2.WrappedKey) {
		t.Fatal("expected distinct item keys")
	}
}

func TestWrappedKeyBlobLayout(t *testing.T) {
	mek := randKey(t)
	env, err := SealItem([]byte("x"), mek)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	blob := PackWrappedKey(env)
	if len(blob) != WrappedKeyLen {
		t.Fatalf("blob length %d, want %d", len(blob), WrappedKeyLen)
	}
	if !bytes.Equal(blob[:NonceSize], env.KeyNonce) ||
		!bytes.Equal(blob[NonceSize:NonceSize+KeySize], env.WrappedKey) ||
		!bytes.Equal(blob[NonceSize+KeySize:], env.KeyTag) {
		t.Fatal("blob field order must be nonce || ciphertext || tag")
	}

	var back SealedEnvelope
	if err := ParseWrappedKey(blob, &back); err != nil {
		t.Fatalf("parse: %v", err)
	}
	back.Ciphertext = env.Ciphertext
	back.DataNonce = env.DataNonce
	back.DataTag = env.DataTag
	if _, err := OpenItem(back, mek); err != nil {
		t.Fatalf("open after re-parse: %v", err)
	}

	if err := ParseWrappedKey(blob[:WrappedKeyLen-1], &back); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("short blob: want ErrAuthentication, got %v", err)
	}
}

func TestDataBlobRoundTrip(t *testing.T) {
	mek := randKey(t)
	env, err := SealItem([]byte("payload bytes"), mek)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var back SealedEnvelope
	if err := ParseData(PackData(env), &back); err != nil {
		t.Fatalf("parse data: %v", err)
	}
	if err := ParseWrappedKey(PackWrappedKey(env), &back); err != nil {
		t.Fatalf("parse key: %v", err)
	}
	pt, err := OpenItem(back, mek)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(pt) != "payload bytes" {
		t.Fatal("plaintext mismatch")
	}
}

func TestUnwrapWrapKey(t *testing.T) {
	mek := randKey(t)
	env, err := SealItem([]byte("v"), mek)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ik, err := UnwrapKey(env, mek)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	wk, kn, kt, err := WrapKey(ik, mek)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	env.WrappedKey, env.KeyNonce, env.KeyTag = wk, kn, kt
	if _, err := OpenItem(env, mek); err != nil {
		t.Fatalf("open after rewrap: %v", err)
	}
}

func BenchmarkSealItem4K(b *testing.B) {
	var mek [32]byte
	_, _ = rand.Read(mek[:])
	pt := make([]byte, 4096)
	b.ReportAllocs()
	b.SetBytes(int64(len(pt)))
	for i := 0; i < b.N; i++ {
		if _, err := SealItem(pt, &mek); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOpenItem4K(b *testing.B) {
	var mek [32]byte
	_, _ = rand.Read(mek[:])
	env, err := SealItem(make([]byte, 4096), &mek)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.SetBytes(4096)
	for i := 0; i < b.N; i++ {
		if _, err := OpenItem(env, &mek); err != nil {
			b.Fatal(err)
		}
	}
}
