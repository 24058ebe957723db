package auth

import (
	"errors"
	"testing"
)

func TestCheckMasterPassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		identity string
		wantErr  error
	}{
		{"too short", "Short1!", "alice", ErrPasswordTooShort},
		{"keyboard walk", "qwertyuiop12", "alice", ErrPasswordWeak},
		{"repeated word", "passwordpassword", "alice", ErrPasswordWeak},
		{"strong passphrase", "correct horse battery staple", "alice", nil},
		{"strong mixed", "Tr0ub4dor&3 xkcd936!", "alice", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckMasterPassword(tc.password, tc.identity)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestCheckMasterPasswordLengthCap(t *testing.T) {
	long := make([]byte, maxPasswordLen+1)
	for i := range long {
		long[i] = 'a' + byte(i%23)
	}
	if err := CheckMasterPassword(string(long), "alice"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("got %v, want ErrPasswordTooLong", err)
	}
}
