package auth

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Claims struct {
	Sub       string `json:"sub"` // account identity
	Roles     []Role `json:"roles"`
	TokenID   string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`

	// Bind is the hex SHA-256 digest of the token-binding key derived
	// from the SRP handshake this token was issued for. Sensitive
	// endpoints demand the preimage, so a stolen bearer token alone
	// cannot drive them.
	Bind string `json:"bnd"`
}
