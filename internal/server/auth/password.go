// Package auth hashes passwords and issues signed session tokens.
package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// hashCost is lowered by tests.
var hashCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyHash is compared against when no account matches, so the lookup costs
// the same bcrypt work as a wrong password.
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("filevault-no-such-user"), hashCost)
	if err != nil {
		panic(err)
	}
	return hash
})

// RejectPassword spends the time of a CheckPassword call and returns false.
// Use it when the account does not exist.
func RejectPassword(password string) bool {
	bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
	return false
}
