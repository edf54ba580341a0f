package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts is the number of wrong codes tolerated before lockout
	DefaultMaxAttempts = 3
	// DefaultLockoutDuration is the fixed lockout window, computed from the lock time
	DefaultLockoutDuration = 15 * time.Minute
)

var codePattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{4}$`)

// CodeUsage records a position the code was used to vote on
type CodeUsage struct {
	PositionID  string    `json:"position_id"`
	CandidateID string    `json:"candidate_id,omitempty"`
	UsedAt      time.Time `json:"used_at"`
}

// SecretCode is a voter's credential for one election. Only the salted hash is kept.
type SecretCode struct {
	ID            string      `json:"id"`
	VoterID       string      `json:"voter_id"`
	ElectionID    string      `json:"election_id"`
	CodeHash      []byte      `json:"-"`
	Salt          []byte      `json:"-"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	IsLocked      bool        `json:"is_locked"`
	LockedUntil   *time.Time  `json:"locked_until,omitempty"`
	IsActive      bool        `json:"is_active"`
	IssuedBy      string      `json:"issued_by"`
	UsageLog      []CodeUsage `json:"usage_log"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	DeactivatedAt *time.Time  `json:"deactivated_at,omitempty"`
}

// LockedAt reports whether the lockout window still covers now.
func (c *SecretCode) LockedAt(now time.Time) bool {
	return c.IsLocked && c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// ClearExpiredLock drops a lock whose window has elapsed. Returns true when it changed.
func (c *SecretCode) ClearExpiredLock(now time.Time) bool {
	if !c.IsLocked || c.LockedAt(now) {
		return false
	}
	c.IsLocked = false
	c.LockedUntil = nil
	c.Attempts = 0
	return true
}

// RegisterFailure counts a wrong code and locks once maxAttempts is reached.
// Returns true when this failure triggered the lock.
func (c *SecretCode) RegisterFailure(now time.Time, lockout time.Duration) bool {
	c.Attempts++
	max := c.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	if c.Attempts >= max {
		until := now.Add(lockout)
		c.IsLocked = true
		c.LockedUntil = &until
		return true
	}
	return false
}

// RegisterSuccess resets the failure counter.
func (c *SecretCode) RegisterSuccess() {
	c.Attempts = 0
	c.IsLocked = false
	c.LockedUntil = nil
}

// RemainingAttempts is the number of wrong codes left before lockout.
func (c *SecretCode) RemainingAttempts() int {
	max := c.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return max - c.Attempts
}

// NormalizeCode upper-cases and trims user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCodeFormat reports whether code has two letters followed by four digits.
func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// GenerateCode draws a fresh code from crypto/rand.
func GenerateCode() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var b strings.Builder
	for i := 0; i < 2; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", fmt.Errorf("generate code letter: %w", err)
		}
		b.WriteByte(letters[n.Int64()])
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("generate code digits: %w", err)
	}
	fmt.Fprintf(&b, "%04d", n.Int64())
	return b.String(), nil
}
