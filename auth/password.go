package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 8

func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var placeholderHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("placeholder password"), bcrypt.DefaultCost)
	return h
})

// CheckPassword reports whether plain matches hash. An empty hash, as for an
// unknown user, still costs one bcrypt comparison and never matches.
func CheckPassword(hash, plain string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(placeholderHash(), []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
