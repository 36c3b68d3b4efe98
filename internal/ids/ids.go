// Package ids implements the IdentifierSource and Clock external
// collaborator interfaces from spec.md §6: opaque, URL-safe, per-entity
// prefixed ids, and a monotonic millisecond clock. Grounded on the
// teacher's own use of google/uuid in internal/fabric and
// internal/federation for collision-resistant ids.
package ids

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity tags, per spec.md §6.
const (
	TagIntent   = "int"
	TagBid      = "bid"
	TagDispute  = "disp"
	TagEvidence = "evd"
	TagTx       = "tx"
)

// Source generates unique ids prefixed by an entity tag.
type Source struct{}

// NewSource returns the default uuid-backed IdentifierSource.
func NewSource() *Source { return &Source{} }

// New returns a new id of the form "<tag>_<uuid-without-dashes>".
func (s *Source) New(tag string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return tag + "_" + raw
}

// Clock supplies wall time to every component that needs to compare
// against deadlines. Production code uses SystemClock; tests use a
// FakeClock so bidding/execution timers are deterministic.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	now time.Time
}

// NewFakeClock creates a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now implements Clock.
func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Set moves the fake clock to an absolute time.
func (c *FakeClock) Set(t time.Time) {
	c.now = t
}
