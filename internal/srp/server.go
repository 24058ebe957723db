package srp

import (
	"crypto/subtle"
	"math/big"
)

// Server runs the verifying side of one handshake attempt against a
// stored (salt, verifier) record. Like Client it is single use.
type Server struct {
	identity string
	salt     []byte
	v        *big.Int

	state State
	b     *big.Int
	bigA  *big.Int
	bigB  *big.Int
	key   []byte
}

// NewServer primes a handshake with the account record the storage
// collaborator looked up for the claimed identity.
func NewServer(identity string, salt, verifier []byte) *Server {
	return &Server{
		identity: identity,
		salt:     append([]byte(nil), salt...),
		v:        new(big.Int).SetBytes(verifier),
		state:    StateInit,
	}
}

func (s *Server) State() State { return s.state }
func (s *Server) Salt() []byte { return append([]byte(nil), s.salt...) }

// Ephemeral consumes the client's A and answers with B = (k*v + g^b)
// mod N. A client ephemeral that collapses to zero mod N is rejected
// outright; a degenerate B is regenerated before it is ever sent.
func (s *Server) Ephemeral(clientA []byte) ([]byte, error) {
	if s.state != StateInit {
		return nil, s.fail(ErrProtocolState)
	}
	bigA := new(big.Int).SetBytes(clientA)
	if new(big.Int).Mod(bigA, group2048).Sign() == 0 {
		return nil, s.fail(ErrAuthentication)
	}
	s.bigA = bigA

	for {
		b, err := randomEphemeral()
		if err != nil {
			return nil, s.fail(err)
		}
		gb := new(big.Int).Exp(generator, b, group2048)
		bigB := new(big.Int).Mul(multiplier, s.v)
		bigB.Add(bigB, gb)
		bigB.Mod(bigB, group2048)
		wipeInt(gb)
		if bigB.Sign() != 0 {
			s.b, s.bigB = b, bigB
			break
		}
		wipeInt(b)
	}
	s.state = StateServerEphemeralReceived
	return s.bigB.Bytes(), nil
}

// VerifyProof recomputes the expected client proof and compares it in
// constant time. On match it returns the server proof M2 and the
// handshake reaches AUTHENTICATED; on mismatch nothing is retained.
func (s *Server) VerifyProof(clientM1 []byte) ([]byte, error) {
	if s.state != StateServerEphemeralReceived {
		return nil, s.fail(ErrProtocolState)
	}
	u := hashToInt(pad(s.bigA), pad(s.bigB))
	if u.Sign() == 0 {
		return nil, s.fail(ErrAuthentication)
	}

	// S = (A * v^u) ^ b mod N
	vu := new(big.Int).Exp(s.v, u, group2048)
	base := new(big.Int).Mul(s.bigA, vu)
	base.Mod(base, group2048)
	sec := new(big.Int).Exp(base, s.b, group2048)
	s.key = hashBytes(pad(sec))
	wipeInt(vu)
	wipeInt(base)
	wipeInt(sec)
	wipeInt(u)

	want := proofM1(s.identity, s.salt, s.bigA, s.bigB, s.key)
	s.state = StateProofExchanged
	if subtle.ConstantTimeCompare(want, clientM1) != 1 {
		return nil, s.fail(ErrAuthentication)
	}

	m2 := hashBytes(s.bigA.Bytes(), clientM1, s.key)
	s.state = StateAuthenticated
	return m2, nil
}

// Key returns a copy of the session key K after mutual authentication.
func (s *Server) Key() ([]byte, error) {
	if s.state != StateAuthenticated {
		return nil, ErrProtocolState
	}
	return append([]byte(nil), s.key...), nil
}

// Close discards every ephemeral and the session key regardless of
// outcome. After Close the attempt reports StateClosed and Key refuses.
func (s *Server) Close() {
	s.wipe()
	Zero(s.key)
	s.key = nil
	s.state = StateClosed
}

func (s *Server) fail(err error) error {
	s.wipe()
	Zero(s.key)
	s.key = nil
	s.state = StateFailed
	return err
}

func (s *Server) wipe() {
	wipeInt(s.b)
	s.b = nil
}
