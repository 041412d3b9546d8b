// Package cryptox hashes and verifies user passwords with argon2id.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	SaltLen = 16
	KeyLen  = 32
)

// DeriveKey stretches password with salt. The parameters are fixed; changing
// them invalidates every stored hash.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeyLen)
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// HashPassword returns the derived key and the fresh salt it was derived with.
func HashPassword(password string) (hash, salt []byte, err error) {
	if password == "" {
		return nil, nil, errors.New("empty password")
	}
	salt, err = NewSalt()
	if err != nil {
		return nil, nil, err
	}
	return DeriveKey([]byte(password), salt), salt, nil
}

// CheckPassword reports whether password derives to hash under salt.
func CheckPassword(password string, hash, salt []byte) bool {
	if len(hash) == 0 || len(salt) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(DeriveKey([]byte(password), salt), hash) == 1
}
