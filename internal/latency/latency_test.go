package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// For any voted_slots subset of [0, landed_slot], Calculate emits
// exactly |voted_slots| records whose latency_slots == landed_slot -
// voted_slot.
func TestCalculate_EmitsOneRecordPerVotedSlot(t *testing.T) {
	now := time.Now().UTC()
	in := Input{
		VotedSlots:  []uint64{95, 96, 100},
		LandedSlot:  100,
		ReceiveTime: now,
	}
	got := Calculate(in)
	assert.Len(t, got, 3)
	wantLatencies := map[uint64]uint64{95: 5, 96: 4, 100: 0}
	for _, r := range got {
		assert.Equal(t, wantLatencies[r.VotedOnSlot], r.LatencySlots)
		assert.Equal(t, uint64(100), r.LandedSlot)
		assert.Equal(t, now, r.Timestamp)
	}
}

// Any voted_slot > landed_slot is dropped, no record emitted.
func TestCalculate_DropsSkewedSlots(t *testing.T) {
	got := Calculate(Input{VotedSlots: []uint64{2000}, LandedSlot: 1999})
	assert.Empty(t, got)
}

func TestCalculate_MixedSkewAndValid(t *testing.T) {
	got := Calculate(Input{VotedSlots: []uint64{50, 2000, 60}, LandedSlot: 100})
	assert.Len(t, got, 2)
}

func TestCalculate_EmptySlotsIsLegal(t *testing.T) {
	got := Calculate(Input{VotedSlots: nil, LandedSlot: 100})
	assert.Empty(t, got)
}
