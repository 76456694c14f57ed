// Package latency is a pure, synchronous function turning a decoded vote
// event into zero or more VoteLatencyRecords.
package latency

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Record is one VoteLatencyRecord. One record is produced per
// (voted_slot, landing_transaction).
type Record struct {
	Timestamp    time.Time
	Validator    solana.PublicKey
	VoteAccount  solana.PublicKey
	VotedOnSlot  uint64
	LandedSlot   uint64
	LatencySlots uint64
}

// Input bundles the fields the calculator needs for one vote transaction.
type Input struct {
	VotedSlots  []uint64
	LandedSlot  uint64
	Validator   solana.PublicKey
	VoteAccount solana.PublicKey
	ReceiveTime time.Time
}

var skewCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "vote_latency_monitor_skew_rejected_total",
	Help: "Total number of voted slots dropped because voted_slot > landed_slot.",
})

func init() {
	prometheus.MustRegister(skewCounter)
}

// Calculate emits one Record per voted slot <= landed slot. Any voted
// slot > landed slot is clock skew between the feed and the landed
// transaction; it's dropped and increments the skew counter rather than
// emitting a negative latency.
func Calculate(in Input) []Record {
	if len(in.VotedSlots) == 0 {
		return nil
	}
	records := make([]Record, 0, len(in.VotedSlots))
	for _, voted := range in.VotedSlots {
		if voted > in.LandedSlot {
			skewCounter.Inc()
			continue
		}
		records = append(records, Record{
			Timestamp:    in.ReceiveTime,
			Validator:    in.Validator,
			VoteAccount:  in.VoteAccount,
			VotedOnSlot:  voted,
			LandedSlot:   in.LandedSlot,
			LatencySlots: in.LandedSlot - voted,
		})
	}
	return records
}
