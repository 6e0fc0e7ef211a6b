// Package secret compares shared secrets against configured bcrypt hashes.
package secret

import "golang.org/x/crypto/bcrypt"

// Match reports whether plain matches hash. An empty hash never matches, so an
// unconfigured secret disables the feature it guards.
func Match(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Hash is used by tooling and tests to produce configuration values.
func Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	return string(b), err
}
