package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"net/mail"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. The user id is mixed into the salt so equal
// passwords hash differently per account.
const (
	argonTime    = 5
	argonMemory  = 7 // KiB
	argonThreads = 1
	argonKeyLen  = 128
)

// HashPassword derives the stored hash for a user's password.
func HashPassword(uid, password string) string {
	key := argon2.IDKey([]byte(password), []byte("flock:"+uid), argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(key)
}

// VerifyPassword checks a password against the stored hash. An empty
// stored hash marks a legacy passwordless account and matches anything.
func VerifyPassword(uid, password, stored string) bool {
	if stored == "" {
		return true
	}
	computed := HashPassword(uid, password)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

// ValidEmail reports whether the signup email parses.
func ValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// ValidPassword enforces the minimum password length.
func ValidPassword(password string) bool {
	return len(password) >= 8
}
