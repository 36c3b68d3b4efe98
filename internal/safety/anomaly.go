package safety

import (
	"math"
	"sync"
	"time"

	"github.com/ocx/synapse-core/internal/config"
	"github.com/ocx/synapse-core/internal/money"
)

// AnomalyDetector maintains a rolling mean/stddev of transaction amounts
// per sender and flags statistical and behavioral outliers. It never
// blocks on its own (spec.md §4.5: "Anomalies do not block by default");
// callers fold its signals into the overall risk score and warning list.
type AnomalyDetector struct {
	cfg config.AnomalyDetectionConfig

	mu      sync.Mutex
	history map[string]*senderHistory
}

type senderHistory struct {
	amounts    []float64
	recipients map[string]time.Time // first-seen per recipient
	recent     []recentPayment       // last few, for "N recent to same recipient"
}

type recentPayment struct {
	recipient string
	at        time.Time
}

// NewAnomalyDetector constructs an AnomalyDetector.
func NewAnomalyDetector(cfg config.AnomalyDetectionConfig) *AnomalyDetector {
	return &AnomalyDetector{cfg: cfg, history: make(map[string]*senderHistory)}
}

// AnomalyOutcome is the anomaly check's contribution to the overall
// SafetyCheckResult. Flagged never blocks; it only ever warns.
type AnomalyOutcome struct {
	Flagged          bool
	ZScore           float64
	UnusualHour      bool
	FirstTimeRecip   bool
	RepeatRecipient  bool // >=3 recent payments to the same recipient
}

// Check evaluates amount against sender's rolling history, then records it.
func (ad *AnomalyDetector) Check(sender, recipient string, amount money.Amount, now time.Time) AnomalyOutcome {
	if !ad.cfg.Enabled {
		return AnomalyOutcome{}
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()

	h, ok := ad.history[sender]
	if !ok {
		h = &senderHistory{recipients: make(map[string]time.Time)}
		ad.history[sender] = h
	}

	var out AnomalyOutcome
	if len(h.amounts) >= ad.cfg.MinTransactions {
		mean, stddev := meanStdDev(h.amounts)
		if stddev > 0 {
			z := math.Abs(amount.Float64()-mean) / stddev
			out.ZScore = z
			if z > ad.cfg.StdDevThreshold {
				out.Flagged = true
			}
		}
	}

	hour := now.Hour()
	out.UnusualHour = hour >= 2 && hour < 5

	if _, seen := h.recipients[recipient]; !seen {
		out.FirstTimeRecip = true
	}

	cutoff := now.Add(-time.Hour)
	recentToSame := 0
	for _, rp := range h.recent {
		if rp.at.After(cutoff) && rp.recipient == recipient {
			recentToSame++
		}
	}
	out.RepeatRecipient = recentToSame >= 2 // plus this one makes 3

	h.amounts = append(h.amounts, amount.Float64())
	h.recipients[recipient] = now
	h.recent = append(h.recent, recentPayment{recipient: recipient, at: now})
	if len(h.recent) > 50 {
		h.recent = h.recent[len(h.recent)-50:]
	}

	return out
}

func meanStdDev(xs []float64) (mean, stddev float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
