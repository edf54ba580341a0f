package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.True(t, ValidCodeFormat(code), code)
	}
}

func TestValidCodeFormat(t *testing.T) {
	assert.True(t, ValidCodeFormat("AB1234"))
	assert.True(t, ValidCodeFormat(NormalizeCode(" ab1234 ")))
	assert.False(t, ValidCodeFormat("A11234"))
	assert.False(t, ValidCodeFormat("AB123"))
	assert.False(t, ValidCodeFormat("AB12345"))
	assert.False(t, ValidCodeFormat("ab1234"))
}

func TestSecretCodeLockout(t *testing.T) {
	c := &SecretCode{MaxAttempts: 3, IsActive: true}

	assert.False(t, c.RegisterFailure(base, DefaultLockoutDuration))
	assert.Equal(t, 2, c.RemainingAttempts())
	assert.False(t, c.RegisterFailure(base, DefaultLockoutDuration))
	assert.True(t, c.RegisterFailure(base, DefaultLockoutDuration))

	assert.True(t, c.LockedAt(base.Add(14*time.Minute)))
	assert.False(t, c.ClearExpiredLock(base.Add(14*time.Minute)))
	assert.False(t, c.LockedAt(base.Add(15*time.Minute)))

	assert.True(t, c.ClearExpiredLock(base.Add(15*time.Minute)))
	assert.Equal(t, 0, c.Attempts)
	assert.Nil(t, c.LockedUntil)
}

func TestErrorDetails(t *testing.T) {
	err := CodeLocked(base.Add(90*time.Second), base)
	assert.True(t, errors.Is(err, ErrSecretCodeLocked))
	assert.EqualValues(t, 90, err.Details["retry_after_seconds"])

	inv := InvalidCode(-1)
	assert.True(t, errors.Is(inv, ErrInvalidSecretCode))
	assert.Equal(t, 0, inv.Details["attempts_remaining"])

	assert.Nil(t, ErrSecretCodeLocked.Details)
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
}
