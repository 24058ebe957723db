// Package rotation re-wraps item keys when the master password
// changes. Item ciphertext is never touched: a rotation moves only the
// wrapped-key fields, so its cost is independent of payload size.
package rotation

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
)

// Envelope pairs an item ID with its sealed fields as loaded from the
// storage collaborator.
type Envelope struct {
	ID       string
	Envelope crypto.SealedEnvelope
}

// Rewrapped carries the replacement wrapped-key fields for one item.
// Data fields are deliberately absent: they do not change.
type Rewrapped struct {
	ID         string
	WrappedKey []byte
	KeyNonce   []byte
	KeyTag     []byte
}

// PartialFailure reports a batch that could not be rewrapped in full.
// The caller must commit nothing: a mix of old and new wraps in storage
// is exactly the state this error exists to prevent.
type PartialFailure struct {
	FailedIDs []string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("rotation: %d item(s) failed to unwrap, batch aborted", len(e.FailedIDs))
}

// Rotate unwraps every item key under oldMEK and re-wraps it under
// newMEK with a fresh nonce. Items are processed in parallel; each
// rewrap is pure and uses its own scratch. The full result set is
// computed before anything is returned, and on any unwrap failure the
// result is nil with a *PartialFailure naming the bad items.
//
// Committing the returned batch is the storage collaborator's job and
// must be atomic: a reader may observe the fully-old or the fully-new
// wrap of an item, never a mixture. Rotate itself is retry-safe; a
// second pass over already-rotated items just produces fresh wraps.
func Rotate(ctx context.Context, oldMEK, newMEK *[32]byte, envelopes []Envelope) ([]Rewrapped, error) {
	out := make([]Rewrapped, len(envelopes))
	errs := make([]error, len(envelopes))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(envelopes) {
		workers = len(envelopes)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i], errs[i] = rewrapOne(envelopes[i], oldMEK, newMEK)
			}
		}()
	}

feed:
	for i := range envelopes {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, envelopes[i].ID)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return nil, &PartialFailure{FailedIDs: failed}
	}
	return out, nil
}

func rewrapOne(env Envelope, oldMEK, newMEK *[32]byte) (Rewrapped, error) {
	itemKey, err := crypto.UnwrapKey(env.Envelope, oldMEK)
	if err != nil {
		return Rewrapped{}, err
	}
	defer crypto.Zero(itemKey)

	wrapped, nonce, tag, err := crypto.WrapKey(itemKey, newMEK)
	if err != nil {
		return Rewrapped{}, err
	}
	return Rewrapped{ID: env.ID, WrappedKey: wrapped, KeyNonce: nonce, KeyTag: tag}, nil
}
