package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	NonceSize = chacha20poly1305.NonceSize // 12
	TagSize   = chacha20poly1305.Overhead  // 16
	KeySize   = chacha20poly1305.KeySize   // 32

	// WrappedKeyLen is the fixed wire size of a wrapped item key:
	// 12-byte nonce || 32-byte ciphertext || 16-byte tag. The inner key
	// is always exactly 32 bytes; this layout is a contract with the
	// storage collaborator, not an implementation detail.
	WrappedKeyLen = NonceSize + KeySize + TagSize // 60
)

// SealedEnvelope is the only form in which item plaintext and item keys
// leave this package. Data fields are rotation-invariant; only the
// wrapped-key fields change when the master password rotates.
type SealedEnvelope struct {
	Ciphertext []byte
	DataNonce  []byte
	DataTag    []byte
	WrappedKey []byte
	KeyNonce   []byte
	KeyTag     []byte
}

// SealItem encrypts plaintext under a fresh random 256-bit item key,
// then wraps that key under mek. Both AEAD invocations draw a fresh
// nonce from crypto/rand; nonces are never supplied by callers.
func SealItem(plaintext []byte, mek *[32]byte) (SealedEnvelope, error) {
	itemKey := make([]byte, KeySize)
	if _, err := rand.Read(itemKey); err != nil {
		return SealedEnvelope{}, err
	}
	defer Zero(itemKey)

	dataNonce, ctAndTag, err := aeadSeal(itemKey, plaintext)
	if err != nil {
		return SealedEnvelope{}, err
	}
	keyNonce, wrapAndTag, err := aeadSeal(mek[:], itemKey)
	if err != nil {
		return SealedEnvelope{}, err
	}

	return SealedEnvelope{
		Ciphertext: ctAndTag[:len(ctAndTag)-TagSize],
		DataNonce:  dataNonce,
		DataTag:    ctAndTag[len(ctAndTag)-TagSize:],
		WrappedKey: wrapAndTag[:KeySize],
		KeyNonce:   keyNonce,
		KeyTag:     wrapAndTag[KeySize:],
	}, nil
}

// OpenItem unwraps the item key under mek, then decrypts the data. Both
// stages verify their tag before releasing a single byte; any mismatch
// at either stage is ErrAuthentication with no further detail.
func OpenItem(env SealedEnvelope, mek *[32]byte) ([]byte, error) {
	itemKey, err := UnwrapKey(env, mek)
	if err != nil {
		return nil, err
	}
	defer Zero(itemKey)

	if len(env.DataNonce) != NonceSize || len(env.DataTag) != TagSize {
		return nil, ErrAuthentication
	}
	blob := make([]byte, 0, len(env.Ciphertext)+TagSize)
	blob = append(blob, env.Ciphertext...)
	blob = append(blob, env.DataTag...)
	pt, err := aeadOpen(itemKey, env.DataNonce, blob)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// UnwrapKey recovers the raw 32-byte item key from an envelope. Callers
// own the returned slice and must Zero it when done.
func UnwrapKey(env SealedEnvelope, mek *[32]byte) ([]byte, error) {
	if len(env.KeyNonce) != NonceSize || len(env.WrappedKey) != KeySize || len(env.KeyTag) != TagSize {
		return nil, ErrAuthentication
	}
	blob := make([]byte, 0, KeySize+TagSize)
	blob = append(blob, env.WrappedKey...)
	blob = append(blob, env.KeyTag...)
	itemKey, err := aeadOpen(mek[:], env.KeyNonce, blob)
	if err != nil {
		return nil, ErrAuthentication
	}
	return itemKey, nil
}

// WrapKey wraps a raw 32-byte item key under mek with a fresh nonce,
// returning the three wrapped-key fields of an envelope.
func WrapKey(itemKey []byte, mek *[32]byte) (wrappedKey, keyNonce, keyTag []byte, err error) {
	if len(itemKey) != KeySize {
		return nil, nil, nil, ErrAuthentication
	}
	nonce, blob, err := aeadSeal(mek[:], itemKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return blob[:KeySize], nonce, blob[KeySize:], nil
}

// PackWrappedKey serializes the wrapped-key fields into the fixed
// 60-byte blob the storage collaborator persists.
func PackWrappedKey(env SealedEnvelope) []byte {
	out := make([]byte, 0, WrappedKeyLen)
	out = append(out, env.KeyNonce...)
	out = append(out, env.WrappedKey...)
	out = append(out, env.KeyTag...)
	return out
}

// ParseWrappedKey splits a 60-byte blob back into the wrapped-key
// fields of env. A wrong length is an authentication failure: the blob
// came from untrusted storage.
func ParseWrappedKey(blob []byte, env *SealedEnvelope) error {
	if len(blob) != WrappedKeyLen {
		return ErrAuthentication
	}
	env.KeyNonce = append([]byte(nil), blob[:NonceSize]...)
	env.WrappedKey = append([]byte(nil), blob[NonceSize:NonceSize+KeySize]...)
	env.KeyTag = append([]byte(nil), blob[NonceSize+KeySize:]...)
	return nil
}

// PackData serializes the data fields as nonce || ciphertext || tag.
func PackData(env SealedEnvelope) []byte {
	out := make([]byte, 0, NonceSize+len(env.Ciphertext)+TagSize)
	out = append(out, env.DataNonce...)
	out = append(out, env.Ciphertext...)
	out = append(out, env.DataTag...)
	return out
}

// ParseData splits a data blob back into the data fields of env.
func ParseData(blob []byte, env *SealedEnvelope) error {
	if len(blob) < NonceSize+TagSize {
		return ErrAuthentication
	}
	env.DataNonce = append([]byte(nil), blob[:NonceSize]...)
	env.Ciphertext = append([]byte(nil), blob[NonceSize:len(blob)-TagSize]...)
	env.DataTag = append([]byte(nil), blob[len(blob)-TagSize:]...)
	return nil
}

func aeadSeal(key, plaintext []byte) (nonce, out []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

func aeadOpen(key, nonce, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, blob, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}
