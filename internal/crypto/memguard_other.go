//go:build !linux && !darwin

package crypto

// Mlock is unavailable here; key wiping still applies.
func LockMemory(b []byte) error   { return nil }
func UnlockMemory(b []byte) error { return nil }
