package crypto

import (
	"golang.org/x/crypto/argon2"
)

type KDFParams struct {
	M uint32 // memory in KiB
	T uint32 // iterations
	P uint8  // parallelism
}

const MinSaltLen = 16

// DefaultKDF are the cost parameters used for new accounts: 64 MiB,
// 3 passes, 4 lanes.
func DefaultKDF() KDFParams {
	return KDFParams{M: 64 * 1024, T: 3, P: 4}
}

// Keys is the pair derived from one (password, salt). MEK wraps item
// keys; AK feeds the SRP handshake and nothing else.
type Keys struct {
	MEK [32]byte
	AK  [32]byte
}

// Wipe zeroes both halves. Call it on every exit path once the keys
// have been handed off or are no longer needed.
func (k *Keys) Wipe() {
	Zero(k.MEK[:])
	Zero(k.AK[:])
}

// DeriveKeys stretches password+salt into 64 bytes of argon2id output
// and splits it: MEK = out[0:32], AK = out[32:64]. Deterministic for a
// given (password, salt, params) triple; the client login path and the
// enrollment-time verifier computation must agree bit for bit.
//
// The password slice is zeroed before DeriveKeys returns, success or
// failure.
func DeriveKeys(password, salt []byte, p KDFParams) (Keys, error) {
	defer Zero(password)

	var k Keys
	if len(salt) < MinSaltLen {
		return k, ErrKeyDerivation
	}
	if p.M == 0 || p.T == 0 || p.P == 0 {
		return k, ErrKeyDerivation
	}

	out := argon2.IDKey(password, salt, p.T, p.M, p.P, 64)
	copy(k.MEK[:], out[:32])
	copy(k.AK[:], out[32:])
	Zero(out)
	return k, nil
}
