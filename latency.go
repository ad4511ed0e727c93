package simdb

import (
	"fmt"

	tdigest "github.com/caio/go-tdigest"
)

// netLatencyStats accumulates the observed per-direction
// network delays (send delay + receive delay per delivered
// batch) into t-digests, so snapshots can report latency
// quantiles per ordered IP pair without storing every sample.
type netLatencyStats struct {
	byPair *omap[uint64, *tdigest.TDigest]
}

func newNetLatencyStats() *netLatencyStats {
	return &netLatencyStats{
		byPair: newOmap[uint64, *tdigest.TDigest](),
	}
}

func (n *netLatencyStats) record(from, to uint32, seconds float64) {
	key := pairKey(from, to)
	td, ok := n.byPair.get2(key)
	if !ok {
		var err error
		td, err = tdigest.New(tdigest.Compression(100))
		panicOn(err)
		n.byPair.set(key, td)
	}
	td.Add(seconds)
}

// LatencySummary is one direction's digest, flattened for
// snapshots.
type LatencySummary struct {
	FromIP string  `json:"from"`
	ToIP   string  `json:"to"`
	Count  uint64  `json:"count"`
	P50    float64 `json:"p50"`
	P99    float64 `json:"p99"`
}

func (n *netLatencyStats) summaries() (r []LatencySummary) {
	for key, td := range n.byPair.all() {
		r = append(r, LatencySummary{
			FromIP: ipString(uint32(key >> 32)),
			ToIP:   ipString(uint32(key)),
			Count:  uint64(td.Count()),
			P50:    td.Quantile(0.5),
			P99:    td.Quantile(0.99),
		})
	}
	return
}

func fmtFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
