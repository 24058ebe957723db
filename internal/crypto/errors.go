package crypto

import "errors"

var (
	// ErrKeyDerivation covers bad salts and unset cost parameters.
	ErrKeyDerivation = errors.New("crypto: key derivation failed")

	// ErrAuthentication is returned for every tag mismatch, wrong key,
	// or truncated blob. It is deliberately undifferentiated: callers
	// must not be able to tell "wrong MEK" from "tampered ciphertext".
	ErrAuthentication = errors.New("crypto: authentication failed")
)
