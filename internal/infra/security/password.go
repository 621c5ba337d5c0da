// Package security holds the stub backend's password hashing and bearer
// credential signing.
package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordMismatch = errors.New("security: password mismatch")

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare returns ErrPasswordMismatch for a wrong password and the bcrypt
// error for a malformed hash.
func (h BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

func (h BcryptHasher) cost() int {
	if h.Cost >= bcrypt.MinCost {
		return h.Cost
	}
	return bcrypt.DefaultCost
}
