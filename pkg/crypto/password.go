package crypto

import "golang.org/x/crypto/bcrypt"

// DefaultCost is the bcrypt work factor used for stored passwords.
const DefaultCost = 10

// HashPassword hashes plaintext using bcrypt with the given cost.
// Costs outside bcrypt's accepted range fall back to DefaultCost.
func HashPassword(plain string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(plain), cost)
}

// ComparePassword compares plaintext to hashed secret.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
