package srp

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
)

// Client runs the proving side of one handshake attempt. A Client is
// single use: after StateAuthenticated or StateFailed it only answers
// State() and Close().
type Client struct {
	identity string
	ak       [32]byte

	state State
	a     *big.Int
	bigA  *big.Int
	bigB  *big.Int
	salt  []byte
	key   []byte
	m1    []byte
}

// NewClient captures the identity and its authentication key. The AK is
// copied; the caller keeps ownership of its own buffer.
func NewClient(identity string, ak *[32]byte) *Client {
	c := &Client{identity: identity, state: StateInit}
	c.ak = *ak
	return c
}

func (c *Client) State() State { return c.state }

// Start generates the private ephemeral a and returns A = g^a mod N.
// A degenerate A (A mod N == 0) is regenerated, never sent.
func (c *Client) Start() ([]byte, error) {
	if c.state != StateInit {
		return nil, c.fail(ErrProtocolState)
	}
	for {
		a, err := randomEphemeral()
		if err != nil {
			return nil, c.fail(err)
		}
		bigA := new(big.Int).Exp(generator, a, group2048)
		if new(big.Int).Mod(bigA, group2048).Sign() != 0 {
			c.a, c.bigA = a, bigA
			break
		}
		wipeInt(a)
	}
	c.state = StateClientEphemeralSent
	return c.bigA.Bytes(), nil
}

// SetServerEphemeral consumes the server's (salt, B) message, computes
// the shared secret and the client proof M1, and returns M1. After it
// returns, the handshake sits at StateProofExchanged awaiting M2.
func (c *Client) SetServerEphemeral(salt, serverB []byte) ([]byte, error) {
	if c.state != StateClientEphemeralSent {
		return nil, c.fail(ErrProtocolState)
	}
	bigB := new(big.Int).SetBytes(serverB)
	if new(big.Int).Mod(bigB, group2048).Sign() == 0 {
		return nil, c.fail(ErrAuthentication)
	}
	c.state = StateServerEphemeralReceived
	c.bigB = bigB
	c.salt = append([]byte(nil), salt...)

	u := hashToInt(pad(c.bigA), pad(bigB))
	if u.Sign() == 0 {
		return nil, c.fail(ErrAuthentication)
	}

	x := privateExponent(c.identity, &c.ak, c.salt)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(generator, x, group2048)
	base := new(big.Int).Mul(multiplier, gx)
	base.Sub(bigB, base)
	base.Mod(base, group2048)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)
	s := new(big.Int).Exp(base, exp, group2048)

	c.key = hashBytes(pad(s))
	c.m1 = proofM1(c.identity, c.salt, c.bigA, bigB, c.key)

	wipeInt(x)
	wipeInt(gx)
	wipeInt(base)
	wipeInt(exp)
	wipeInt(s)
	wipeInt(u)

	c.state = StateProofExchanged
	return append([]byte(nil), c.m1...), nil
}

// VerifyServerProof checks M2 = H(A, M1, K) in constant time. On match
// the session key becomes available through Key(); on mismatch all
// handshake material is destroyed and the attempt is FAILED.
func (c *Client) VerifyServerProof(m2 []byte) error {
	if c.state != StateProofExchanged {
		return c.fail(ErrProtocolState)
	}
	want := hashBytes(c.bigA.Bytes(), c.m1, c.key)
	if subtle.ConstantTimeCompare(want, m2) != 1 {
		return c.fail(ErrAuthentication)
	}
	c.state = StateAuthenticated
	return nil
}

// Key returns a copy of the session key K. It exists only after mutual
// authentication succeeded.
func (c *Client) Key() ([]byte, error) {
	if c.state != StateAuthenticated {
		return nil, ErrProtocolState
	}
	return append([]byte(nil), c.key...), nil
}

// Close discards every ephemeral and the session key regardless of
// outcome. Safe to call more than once; a cancelled handshake must
// always end here. After Close the attempt reports StateClosed and Key
// refuses, even when authentication had succeeded.
func (c *Client) Close() {
	c.wipe()
	Zero(c.key)
	c.key = nil
	c.state = StateClosed
}

func (c *Client) fail(err error) error {
	c.wipe()
	Zero(c.key)
	c.key = nil
	c.state = StateFailed
	return err
}

func (c *Client) wipe() {
	wipeInt(c.a)
	c.a = nil
	Zero(c.ak[:])
	Zero(c.m1)
}

// randomEphemeral draws a 256-bit private exponent, retrying the
// astronomically unlikely zero.
func randomEphemeral() (*big.Int, error) {
	for {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		e := new(big.Int).SetBytes(b)
		Zero(b)
		if e.Sign() != 0 {
			return e, nil
		}
	}
}

// proofM1 is H(H(N) xor H(g), H(identity), salt, A, B, K).
func proofM1(identity string, salt []byte, bigA, bigB *big.Int, key []byte) []byte {
	hn := hashBytes(group2048.Bytes())
	hg := hashBytes(generator.Bytes())
	for i := range hn {
		hn[i] ^= hg[i]
	}
	hi := hashBytes([]byte(identity))
	return hashBytes(hn, hi, salt, bigA.Bytes(), bigB.Bytes(), key)
}
