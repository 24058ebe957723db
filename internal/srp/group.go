package srp

import (
	"crypto/sha256"
	"math/big"
	"strings"
)

// The 2048-bit group from RFC 5054 appendix A. Both peers must use the
// same parameters bit for bit; a mismatch fails the handshake instead
// of downgrading.
const group2048Hex = `
AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050
A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50
E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8
55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B
CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748
544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6
AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6
94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73`

var (
	group2048  *big.Int
	generator  = big.NewInt(2)
	multiplier *big.Int // k = H(N || PAD(g))
)

func init() {
	hex := strings.NewReplacer("\n", "", " ", "").Replace(group2048Hex)
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("srp: bad group constant")
	}
	group2048 = n
	multiplier = hashToInt(n.Bytes(), pad(generator))
}

// groupByteLen is the padding width for PAD(): the byte length of N.
func groupByteLen() int { return (group2048.BitLen() + 7) / 8 }

// pad left-pads x's big-endian bytes to the width of N.
func pad(x *big.Int) []byte {
	b := x.Bytes()
	out := make([]byte, groupByteLen())
	copy(out[len(out)-len(b):], b)
	return out
}

func hashBytes(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashToInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hashBytes(parts...))
}

// wipeInt destroys the internal limbs of a big.Int holding secret
// material. big.Int was never designed for secrets; overwriting the
// backing word slice is the best erasure available.
func wipeInt(x *big.Int) {
	if x == nil {
		return
	}
	bits := x.Bits()
	for i := range bits {
		bits[i] = 0
	}
	x.SetInt64(0)
}
