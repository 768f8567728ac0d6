package auth

import "golang.org/x/crypto/bcrypt"

// MinPasswordLen is the shortest password Register accepts.
const MinPasswordLen = 8

// HashPassword returns the bcrypt hash stored in users.password_hash.
func HashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

// VerifyPassword checks a login attempt against the stored hash. Any error,
// including a malformed hash, means the credentials are rejected.
func VerifyPassword(plain, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
