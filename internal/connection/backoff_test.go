package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Exponential(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
}

func TestBackoff_Capped(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 5 * time.Second}

	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(100))
}

func TestBackoff_NonDecreasing(t *testing.T) {
	for _, b := range []Backoff{
		DefaultBackoff,
		{Base: 300 * time.Millisecond, Max: 7 * time.Second},
		{Base: time.Second},
	} {
		prev := time.Duration(0)
		for n := 1; n <= 20; n++ {
			d := b.Delay(n)
			assert.GreaterOrEqual(t, d, prev, "delay(%d) decreased for %+v", n, b)
			prev = d
		}
	}
}

func TestBackoff_AttemptBelowOne(t *testing.T) {
	assert.Equal(t, time.Second, DefaultBackoff.Delay(0))
}
