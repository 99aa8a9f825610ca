package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyKey is returned when asked to hash an empty key.
var ErrEmptyKey = errors.New("key is empty")

const (
	// bcryptCost 10 keeps verification at tens of milliseconds: slow
	// enough to blunt brute force, fast enough for interactive logins.
	bcryptCost  = 10
	bcryptLimit = 72
)

// HashKey generates the bcrypt hash stored in service account
// configuration. Hashing happens offline through cmd/keyhasher; the server
// only ever verifies.
//
// Bcrypt reads at most 72 bytes of input, so longer keys are pre-hashed
// with SHA-256 before bcrypt sees them.
func HashKey(key string) (string, error) {
	return HashKeyWithCost(key, bcryptCost)
}

// HashKeyWithCost hashes at an explicit bcrypt cost. The cost is recorded
// inside the hash, so CompareKey needs no matching setting; costs outside
// bcrypt's supported range are rejected by bcrypt itself.
func HashKeyWithCost(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	hash, err := bcrypt.GenerateFromPassword(prepareKey(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}

	return string(hash), nil
}

// CompareKey reports whether a presented key matches a stored bcrypt hash.
// A plain mismatch is (false, nil); an error means the stored hash itself
// is unusable. The comparison is constant-time inside bcrypt.
func CompareKey(hash, key string) (bool, error) {
	if hash == "" || key == "" {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), prepareKey(key))

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare key hash: %w", err)
	}
}

// prepareKey applies the same input rule on both the hashing and the
// verification side: keys over bcrypt's 72-byte limit are replaced by
// their SHA-256 digest.
func prepareKey(key string) []byte {
	if len(key) > bcryptLimit {
		digest := sha256.Sum256([]byte(key))

		return digest[:]
	}

	return []byte(key)
}
