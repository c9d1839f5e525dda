package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayPolicy(t *testing.T) {
	policy := DayPolicy{}

	assert.Equal(t, 30*24*time.Hour, policy.Interval(30))
	assert.Equal(t, 24*time.Hour, policy.Interval(1))

	// 15:04 on June 1st snaps forward to June 2nd midnight UTC.
	now := time.Date(2024, 6, 1, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), policy.RotateBy(now))

	// Just after midnight still snaps to the following midnight.
	early := time.Date(2024, 6, 1, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), policy.RotateBy(early))

	// Non-UTC input is normalized.
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2024, 6, 1, 22, 0, 0, 0, est) // 03:00 UTC June 2nd
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), policy.RotateBy(local))
}

func TestSecondPolicy(t *testing.T) {
	policy := SecondPolicy{}

	assert.Equal(t, 30*time.Second, policy.Interval(30))

	now := time.Date(2024, 6, 1, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, now, policy.RotateBy(now))
}

func TestPolicyForMode(t *testing.T) {
	assert.IsType(t, SecondPolicy{}, PolicyForMode(true))
	assert.IsType(t, DayPolicy{}, PolicyForMode(false))
}
