package secretcode

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"

	"election-service/pkg/config"
)

const (
	saltLength = 16
	keyLength  = 32
)

// Hasher derives argon2id hashes of secret codes
type Hasher struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultHasher follows the argon2id recommendation for interactive logins
var DefaultHasher = Hasher{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

// HasherFromConfig falls back to DefaultHasher for unset values
func HasherFromConfig(cfg config.VotingConfig) Hasher {
	h := DefaultHasher
	if cfg.Argon2Time > 0 {
		h.Time = cfg.Argon2Time
	}
	if cfg.Argon2MemoryKiB > 0 {
		h.MemoryKiB = cfg.Argon2MemoryKiB
	}
	if cfg.Argon2Threads > 0 {
		h.Threads = cfg.Argon2Threads
	}
	return h
}

func (h Hasher) Hash(code string, salt []byte) []byte {
	return argon2.IDKey([]byte(code), salt, h.Time, h.MemoryKiB, h.Threads, keyLength)
}

// Matches compares in constant time
func (h Hasher) Matches(code string, salt, hash []byte) bool {
	return subtle.ConstantTimeCompare(h.Hash(code, salt), hash) == 1
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
