package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockReportsUTC(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := New().Now()
	after := time.Now()

	assert.Equal(t, time.UTC, got.Location())
	assert.False(t, got.Before(before.Add(-time.Second)))
	assert.False(t, got.After(after.Add(time.Second)))
}

func TestFixedClockRepeats(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	clk := Fixed{T: at}
	assert.Equal(t, at, clk.Now())
	assert.Equal(t, clk.Now(), clk.Now())
}
