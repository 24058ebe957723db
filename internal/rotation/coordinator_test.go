package rotation

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"testing"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
)

func randKey(tb testing.TB) *[32]byte {
	tb.Helper()
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		tb.Fatalf("rand.Read: %v", err)
	}
	return &k
}

func sealBatch(tb testing.TB, mek *[32]byte, n int) ([]Envelope, [][]byte) {
	tb.Helper()
	envs := make([]Envelope, n)
	plaintexts := make([][]byte, n)
	for i := range envs {
		pt := []byte(fmt.Sprintf("item-%d-payload", i))
		env, err := crypto.SealItem(pt, mek)
		if err != nil {
			tb.Fatalf("seal %d: %v", i, err)
		}
		envs[i] = Envelope{ID: fmt.Sprintf("item-%d", i), Envelope: env}
		plaintexts[i] = pt
	}
	return envs, plaintexts
}

func applyRewrap(env crypto.SealedEnvelope, rw Rewrapped) crypto.SealedEnvelope {
	env.WrappedKey = rw.WrappedKey
	env.KeyNonce = rw.KeyNonce
	env.KeyTag = rw.KeyTag
	return env
}

func TestRotatePreservesPlaintextAndDataFields(t *testing.T) {
	oldMEK, newMEK := randKey(t), randKey(t)
	envs, pts := sealBatch(t, oldMEK, 8)

	rewrapped, err := Rotate(context.Background(), oldMEK, newMEK, envs)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(rewrapped) != len(envs) {
		t.Fatalf("got %d rewraps, want %d", len(rewrapped), len(envs))
	}

	byID := map[string]Rewrapped{}
	for _, rw := range rewrapped {
		byID[rw.ID] = rw
	}
	for i, e := range envs {
		rw, ok := byID[e.ID]
		if !ok {
			t.Fatalf("missing rewrap for %s", e.ID)
		}
		newEnv := applyRewrap(e.Envelope, rw)
		if !bytes.Equal(newEnv.Ciphertext, e.Envelope.Ciphertext) ||
			!bytes.Equal(newEnv.DataNonce, e.Envelope.DataNonce) ||
			!bytes.Equal(newEnv.DataTag, e.Envelope.DataTag) {
			t.Fatal("data fields must be rotation-invariant")
		}
		got, err := crypto.OpenItem(newEnv, newMEK)
		if err != nil {
			t.Fatalf("open %s under new MEK: %v", e.ID, err)
		}
		if !bytes.Equal(got, pts[i]) {
			t.Fatalf("plaintext changed across rotation for %s", e.ID)
		}
		if _, err := crypto.OpenItem(newEnv, oldMEK); !errors.Is(err, crypto.ErrAuthentication) {
			t.Fatalf("old MEK must no longer open %s, got %v", e.ID, err)
		}
	}
}

func TestRotateCorruptedItemAbortsWholeBatch(t *testing.T) {
	oldMEK, newMEK := randKey(t), randKey(t)
	envs, _ := sealBatch(t, oldMEK, 5)
	envs[2].Envelope.KeyTag[0] ^= 0x01
	envs[4].Envelope.WrappedKey[3] ^= 0x01

	rewrapped, err := Rotate(context.Background(), oldMEK, newMEK, envs)
	if rewrapped != nil {
		t.Fatal("no results may be returned from an aborted batch")
	}
	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("want *PartialFailure, got %v", err)
	}
	want := []string{"item-2", "item-4"}
	if len(pf.FailedIDs) != len(want) || pf.FailedIDs[0] != want[0] || pf.FailedIDs[1] != want[1] {
		t.Fatalf("failed IDs %v, want %v", pf.FailedIDs, want)
	}
}

func TestRotateWrongOldMEKFailsEverything(t *testing.T) {
	oldMEK, newMEK := randKey(t), randKey(t)
	envs, _ := sealBatch(t, oldMEK, 3)

	if _, err := Rotate(context.Background(), randKey(t), newMEK, envs); err == nil {
		t.Fatal("expected failure with wrong old MEK")
	}
}

func TestRotateRetryIsHarmless(t *testing.T) {
	oldMEK, newMEK := randKey(t), randKey(t)
	envs, pts := sealBatch(t, oldMEK, 2)

	first, err := Rotate(context.Background(), oldMEK, newMEK, envs)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	rotated := make([]Envelope, len(envs))
	for i := range envs {
		rotated[i] = Envelope{ID: envs[i].ID, Envelope: applyRewrap(envs[i].Envelope, first[i])}
	}

	// Rotating again with newMEK as both source and target is redundant
	// but valid, and yields fresh wraps.
	second, err := Rotate(context.Background(), newMEK, newMEK, rotated)
	if err != nil {
		t.Fatalf("re-rotate: %v", err)
	}
	for i := range second {
		if bytes.Equal(second[i].KeyNonce, first[i].KeyNonce) {
			t.Fatal("retry must draw a fresh nonce")
		}
		env := applyRewrap(rotated[i].Envelope, second[i])
		got, err := crypto.OpenItem(env, newMEK)
		if err != nil {
			t.Fatalf("open after retry: %v", err)
		}
		if !bytes.Equal(got, pts[i]) {
			t.Fatal("plaintext changed across retry")
		}
	}
}

func TestRotateEmptyBatch(t *testing.T) {
	out, err := Rotate(context.Background(), randKey(t), randKey(t), nil)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d rewraps for empty batch", len(out))
	}
}

func TestRotateCancelledContext(t *testing.T) {
	oldMEK, newMEK := randKey(t), randKey(t)
	envs, _ := sealBatch(t, oldMEK, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Rotate(ctx, oldMEK, newMEK, envs); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func BenchmarkRotate100(b *testing.B) {
	oldMEK, newMEK := randKey(b), randKey(b)
	envs, _ := sealBatch(b, oldMEK, 100)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Rotate(context.Background(), oldMEK, newMEK, envs); err != nil {
			b.Fatal(err)
		}
	}
}
