package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_DefaultBase(t *testing.T) {
	p := Default()

	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 25*time.Second, p.Delay(2))
	assert.Equal(t, 125*time.Second, p.Delay(3))
}

func TestDelay_StrictlyMonotonic(t *testing.T) {
	for _, base := range []int{2, 3, 5} {
		p := New(base)
		prev := time.Duration(0)
		for attempt := 1; attempt <= 8; attempt++ {
			d := p.Delay(attempt)
			require.Greater(t, d, prev, "base=%d attempt=%d", base, attempt)
			prev = d
		}
	}
}

func TestDelay_AttemptFloor(t *testing.T) {
	p := New(3)

	// Attempt counts below 1 are treated as the first retry.
	assert.Equal(t, p.Delay(1), p.Delay(0))
	assert.Equal(t, p.Delay(1), p.Delay(-4))
}

func TestNew_ClampsBase(t *testing.T) {
	p := New(0)
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
}
