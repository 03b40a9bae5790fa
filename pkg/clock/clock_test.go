package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_Now_IsUTC(t *testing.T) {
	now := Real{}.Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestFixed_Now_AlwaysSameInstant(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Fixed{T: ts}

	assert.Equal(t, ts, c.Now())
	assert.Equal(t, ts, c.Now())
}

func TestStepped_Now_Advances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewStepped(start, time.Second)

	first := c.Now()
	second := c.Now()
	third := c.Now()

	assert.Equal(t, start, first)
	assert.Equal(t, start.Add(time.Second), second)
	assert.Equal(t, start.Add(2*time.Second), third)
}
