package srp

import "math/big"

// privateExponent computes x = H(salt || H(identity ":" AK)). The AK
// half of the derived key pair stands in for the raw password, so the
// password itself never reaches this package.
func privateExponent(identity string, ak *[32]byte, salt []byte) *big.Int {
	inner := hashBytes([]byte(identity), []byte(":"), ak[:])
	x := hashToInt(salt, inner)
	Zero(inner)
	return x
}

// ComputeVerifier derives the password verifier v = g^x mod N that the
// server persists at enrollment. It is computed client-side; the server
// stores it without ever seeing AK.
func ComputeVerifier(identity string, ak *[32]byte, salt []byte) []byte {
	x := privateExponent(identity, ak, salt)
	v := new(big.Int).Exp(generator, x, group2048)
	wipeInt(x)
	return v.Bytes()
}

// Zero overwrites a byte slice holding handshake material.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
