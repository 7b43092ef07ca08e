package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		label  string
		policy Policy
		valid  bool
	}{
		{label: "default", policy: DefaultPolicy(), valid: true},
		{label: "zero interval", policy: Fixed(3, 0), valid: true},
		{label: "zero attempts", policy: Fixed(0, time.Second), valid: false},
		{label: "negative interval", policy: Fixed(1, -time.Second), valid: false},
		{label: "negative timeout", policy: Fixed(1, time.Second).WithTimeout(-1), valid: false},
		{label: "backoff", policy: Exponential(3, time.Second, 2, 10*time.Second), valid: true},
		{label: "uncapped backoff", policy: Exponential(3, time.Second, 1.5, 0), valid: true},
		{label: "zero base", policy: Exponential(3, 0, 2, time.Second), valid: false},
		{label: "shrinking factor", policy: Exponential(3, time.Second, 0.5, 0), valid: false},
		{label: "cap below base", policy: Exponential(3, time.Second, 2, time.Millisecond), valid: false},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			err := tc.policy.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigPolicyDefaults(t *testing.T) {
	p, err := Config{}.Policy()
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestConfigPolicy(t *testing.T) {
	p, err := Config{
		MaxAttempts: 5,
		IntervalMs:  250,
		TimeoutMs:   30000,
	}.Policy()
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.Interval)
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.Nil(t, p.Backoff)

	p, err = Config{
		MaxAttempts: 8,
		Backoff:     &BackoffConfig{BaseMs: 500, CapMs: 8000},
	}.Policy()
	require.NoError(t, err)
	require.NotNil(t, p.Backoff)
	assert.Equal(t, 500*time.Millisecond, p.Backoff.Base)
	assert.Equal(t, 2.0, p.Backoff.Factor)
	assert.Equal(t, 8*time.Second, p.Backoff.Cap)
	assert.Zero(t, p.Timeout)
}

func TestConfigPolicyRejectsNegative(t *testing.T) {
	_, err := Config{MaxAttempts: -1}.Policy()
	assert.Error(t, err)

	_, err = Config{Backoff: &BackoffConfig{BaseMs: 100, Factor: 0.5}}.Policy()
	assert.Error(t, err)
}
