package srp

import "errors"

// State tracks where a handshake attempt is in the message sequence.
// Key answers only from StateAuthenticated, and Close leaves that
// state like every other: a closed attempt is terminal, whatever it
// reached before.
type State int

const (
	StateInit State = iota
	StateClientEphemeralSent
	StateServerEphemeralReceived
	StateProofExchanged
	StateAuthenticated
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateClientEphemeralSent:
		return "CLIENT_EPHEMERAL_SENT"
	case StateServerEphemeralReceived:
		return "SERVER_EPHEMERAL_RECEIVED"
	case StateProofExchanged:
		return "PROOF_EXCHANGED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var (
	// ErrProtocolState rejects messages arriving out of sequence, e.g.
	// a proof before the ephemeral exchange completed.
	ErrProtocolState = errors.New("srp: message out of sequence")

	// ErrAuthentication covers every cryptographic failure inside the
	// handshake: degenerate ephemerals, a zero scrambling parameter,
	// and proof mismatches. One error for all of them, so a peer
	// cannot tell which check tripped.
	ErrAuthentication = errors.New("srp: authentication failed")
)
