package safety

import (
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/config"
)

// CycleDetector maintains a bounded sender->recipient edge log and looks
// for payment cycles, grounded on the teacher's security.SybilDetector
// (map-of-edges-under-mutex shape in internal/security/attack_mitigation.go)
// but built around spec.md §4.5's own algorithm: a breadth-first search
// from the proposed recipient over outgoing edges, up to max_hops, looking
// for a path back to the sender.
type CycleDetector struct {
	cfg config.CircularDetectionConfig

	mu    sync.Mutex
	edges map[string][]edge // sender -> outgoing edges
}

type edge struct {
	recipient string
	at        time.Time
}

// NewCycleDetector constructs a CycleDetector.
func NewCycleDetector(cfg config.CircularDetectionConfig) *CycleDetector {
	return &CycleDetector{cfg: cfg, edges: make(map[string][]edge)}
}

// CycleOutcome is the circular-payment check's contribution to the overall
// SafetyCheckResult.
type CycleOutcome struct {
	Blocked       bool
	Trace         []string // sender -> ... -> sender, present when Blocked
	PotentialOnly bool      // recipient has previously paid sender: warning, not a block
}

// Check records the edge log lookup for a proposed sender->recipient
// payment. It does not record the edge itself; Record does that once the
// payment is actually admitted, mirroring spec.md's "proposed payment" vs.
// committed state distinction.
func (cd *CycleDetector) Check(sender, recipient string, now time.Time) CycleOutcome {
	if !cd.cfg.Enabled {
		return CycleOutcome{}
	}
	cd.mu.Lock()
	defer cd.mu.Unlock()

	cd.pruneLocked(now)

	if trace, found := cd.bfs(recipient, sender, cd.cfg.MaxHops); found {
		return CycleOutcome{Blocked: true, Trace: append([]string{sender}, trace...)}
	}

	for _, e := range cd.edges[recipient] {
		if e.recipient == sender {
			return CycleOutcome{PotentialOnly: true}
		}
	}
	return CycleOutcome{}
}

// Record commits the sender->recipient edge once a payment is admitted.
func (cd *CycleDetector) Record(sender, recipient string, now time.Time) {
	if !cd.cfg.Enabled {
		return
	}
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.edges[sender] = append(cd.edges[sender], edge{recipient: recipient, at: now})
}

// bfs searches breadth-first from start over outgoing edges, up to maxHops,
// for a path that reaches target. Returns the path, from start through
// target, when found.
func (cd *CycleDetector) bfs(start, target string, maxHops int) ([]string, bool) {
	type frame struct {
		node string
		path []string
	}
	visited := map[string]bool{start: true}
	queue := []frame{{node: start, path: []string{start}}}

	for depth := 0; depth < maxHops && len(queue) > 0; depth++ {
		next := make([]frame, 0, len(queue))
		for _, f := range queue {
			if f.node == target {
				return f.path, true
			}
			for _, e := range cd.edges[f.node] {
				if visited[e.recipient] {
					continue
				}
				if e.recipient == target {
					return append(f.path, e.recipient), true
				}
				visited[e.recipient] = true
				next = append(next, frame{node: e.recipient, path: append(append([]string{}, f.path...), e.recipient)})
			}
		}
		queue = next
	}
	for _, f := range queue {
		if f.node == target {
			return f.path, true
		}
	}
	return nil, false
}

func (cd *CycleDetector) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(cd.cfg.TimeWindowSec) * time.Second)
	for sender, es := range cd.edges {
		kept := es[:0]
		for _, e := range es {
			if e.at.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(cd.edges, sender)
		} else {
			cd.edges[sender] = kept
		}
	}
}
