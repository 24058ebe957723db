package server

import "time"

// Config wires the HTTP facade. Store selection happens in the caller;
// the server itself only needs auth and handshake tuning.
type Config struct {
	Listen       string
	JWTIssuer    string
	TokenTTL     time.Duration
	HandshakeTTL time.Duration

	// MaxHandshakes caps concurrently pending SRP exchanges so an
	// unauthenticated peer cannot grow the handshake table without
	// bound.
	MaxHandshakes int
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = ":8444"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "zeroguard-backend"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.HandshakeTTL <= 0 {
		c.HandshakeTTL = 2 * time.Minute
	}
	if c.MaxHandshakes <= 0 {
		c.MaxHandshakes = 1024
	}
}
