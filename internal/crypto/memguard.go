//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins a key buffer so it cannot be swapped to disk.
// Best effort: callers treat failure as advisory.
func LockMemory(b []byte) error   { return unix.Mlock(b) }
func UnlockMemory(b []byte) error { return unix.Munlock(b) }
