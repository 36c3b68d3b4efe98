package ids

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_NewPrefixesWithTag(t *testing.T) {
	s := NewSource()
	id := s.New(TagIntent)
	assert.True(t, strings.HasPrefix(id, "int_"))
}

func TestSource_NewIsUnique(t *testing.T) {
	s := NewSource()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := s.New(TagBid)
		assert.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}

func TestSource_NewOmitsDashes(t *testing.T) {
	s := NewSource()
	id := s.New(TagDispute)
	assert.False(t, strings.Contains(id, "-"))
}

func TestSystemClock_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	assert.Equal(t, start, c.Now())

	c.Advance(5 * time.Minute)
	assert.Equal(t, start.Add(5*time.Minute), c.Now())

	later := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}
