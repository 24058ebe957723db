package auth

import (
	"errors"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	minPasswordLen = 12
	maxPasswordLen = 256
	// zxcvbn scores 0..4; 3 means "safely unguessable" in its scale.
	minPasswordScore = 3
)

var (
	ErrPasswordTooShort = errors.New("auth: password must be at least 12 characters")
	ErrPasswordTooLong  = errors.New("auth: password too long")
	ErrPasswordWeak     = errors.New("auth: password is too guessable")
)

// CheckMasterPassword gates enrollment and rotation. The master
// password is the single secret protecting the whole vault, so a
// length floor alone is not enough; the zxcvbn estimator catches
// keyboard walks and dictionary words that pass character-class rules.
// The identity is fed in as a disallowed token.
func CheckMasterPassword(password, identity string) error {
	switch {
	case len(password) < minPasswordLen:
		return ErrPasswordTooShort
	case len(password) > maxPasswordLen:
		return ErrPasswordTooLong
	}
	res := zxcvbn.PasswordStrength(password, []string{identity})
	if res.Score < minPasswordScore {
		return ErrPasswordWeak
	}
	return nil
}
