// Package decoder extracts voted slots from the compact on-wire
// instruction payloads of the Solana vote program.
//
// The struct-shaped variants (UpdateVoteState[+Switch]) are decoded with
// near/borsh-go, which handles the Vec<T>/Option<T> layout generically.
// The two variable-length, high-frequency variants (Vote/VoteSwitch's
// slots list, and TowerSync's run-length offsets) are decoded by hand:
// both are simple enough that reflection-based decoding would cost more
// than it buys on what is this pipeline's hottest code path.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/near/borsh-go"
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seedfourtytwo/vote-latency-monitor/pkg/slog"
)

// VoteProgramID is the vote program's well-known pubkey.
const VoteProgramID = "Vote111111111111111111111111111111111111111"

// Vote-instruction discriminants, as laid out by the vote program's
// VoteInstruction enum. Only the low byte of the leading little-endian
// u32 is significant for these small values.
const (
	DiscriminantVote                 = 0
	DiscriminantVoteSwitch           = 1
	DiscriminantUpdateVoteState      = 2
	DiscriminantUpdateVoteStateSwitch = 3
	DiscriminantTowerSync            = 14
	DiscriminantTowerSyncSwitch      = 15
)

// discriminantHeaderLen is the width of the leading u32-LE enum tag.
const discriminantHeaderLen = 4

// Instruction is the opaque, program-addressed payload the stream
// manager hands to the decoder, carried alongside the enclosing
// transaction's landed slot.
type Instruction struct {
	ProgramID string
	Data      []byte
}

var (
	parseErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vote_latency_monitor_decoder_parse_errors_total",
		Help: "Total number of vote instructions that failed to decode.",
	})
	unknownDiscriminantCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vote_latency_monitor_decoder_unknown_discriminant_total",
		Help: "Total number of vote instructions with an unrecognized discriminant.",
	})
)

func init() {
	prometheus.MustRegister(parseErrorCounter, unknownDiscriminantCounter)
}

// Decoder extracts voted slots from vote-program instructions.
type Decoder struct {
	logger *zap.SugaredLogger
}

// New returns a ready-to-use Decoder.
func New() *Decoder {
	return &Decoder{logger: slog.Get()}
}

// DecodeTransaction filters instructions down to the vote program,
// decodes each into a list of voted slots (deduplicated and filtered to
// <= landedSlot within that instruction, per §4.4 step 4), and
// concatenates the results across all vote instructions in the
// transaction (the empty-slot case is legal and simply contributes
// nothing).
func (d *Decoder) DecodeTransaction(instructions []Instruction, landedSlot uint64) []uint64 {
	var all []uint64
	for _, ix := range instructions {
		if ix.ProgramID != VoteProgramID {
			continue
		}
		all = append(all, d.decodeInstruction(ix.Data, landedSlot)...)
	}
	return all
}

// decodeInstruction decodes a single vote-program instruction. Malformed
// payloads and unknown discriminants are logged at debug and counted;
// they never fail the whole transaction (§4.4 Failure semantics).
func (d *Decoder) decodeInstruction(data []byte, landedSlot uint64) []uint64 {
	if len(data) < discriminantHeaderLen {
		d.logger.Debugw("vote instruction payload too short for discriminant", "len", len(data))
		parseErrorCounter.Inc()
		return nil
	}
	discriminant := data[0] // low byte of the LE u32 tag
	rest := data[discriminantHeaderLen:]

	var (
		slots []uint64
		err   error
	)
	switch discriminant {
	case DiscriminantVote, DiscriminantVoteSwitch:
		slots, err = decodeVoteSlots(rest)
	case DiscriminantUpdateVoteState, DiscriminantUpdateVoteStateSwitch:
		slots, err = decodeUpdateVoteState(rest)
	case DiscriminantTowerSync, DiscriminantTowerSyncSwitch:
		slots, err = decodeTowerSync(rest)
	default:
		d.logger.Debugw("unknown vote instruction discriminant", "discriminant", discriminant)
		unknownDiscriminantCounter.Inc()
		return nil
	}
	if err != nil {
		d.logger.Debugw("failed to decode vote instruction", "discriminant", discriminant, "error", err)
		parseErrorCounter.Inc()
		return nil
	}
	return dedupeAndFilter(slots, landedSlot)
}

// dedupeAndFilter removes duplicate slots and drops any slot > landedSlot
// (malformed, per §4.4 step 4). Order of first occurrence is preserved.
func dedupeAndFilter(slots []uint64, landedSlot uint64) []uint64 {
	if len(slots) == 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, len(slots))
	out := make([]uint64, 0, len(slots))
	for _, s := range slots {
		if s > landedSlot {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// decodeVoteSlots decodes the legacy Vote/VoteSwitch instruction's
// explicit `slots: Vec<u64>` field: a u32-LE length prefix followed by
// that many little-endian u64 slot numbers.
func decodeVoteSlots(data []byte) ([]uint64, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vote payload too short for slots length prefix")
	}
	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(count)*8 {
		return nil, fmt.Errorf("vote payload too short for %d slots", count)
	}
	slots := make([]uint64, count)
	for i := range slots {
		slots[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return slots, nil
}

// lockout is one entry of UpdateVoteState's lockouts array.
type lockout struct {
	Slot              uint64
	ConfirmationCount uint8
}

// voteStateUpdatePayload only declares the leading field(s) of the
// on-chain struct we actually need; borsh-go deserializes fields in
// declaration order and simply leaves any trailing bytes (Root, Hash,
// Timestamp) unconsumed.
type voteStateUpdatePayload struct {
	Lockouts []lockout
}

// decodeUpdateVoteState decodes UpdateVoteState/UpdateVoteStateSwitch via
// borsh and extracts each lockout's slot.
func decodeUpdateVoteState(data []byte) ([]uint64, error) {
	var payload voteStateUpdatePayload
	if err := borsh.Deserialize(&payload, data); err != nil {
		return nil, fmt.Errorf("borsh deserialize UpdateVoteState: %w", err)
	}
	slots := make([]uint64, len(payload.Lockouts))
	for i, lo := range payload.Lockouts {
		slots[i] = lo.Slot
	}
	return slots, nil
}

// decodeTowerSync decodes the compact TowerSync/TowerSyncSwitch payload:
// an optional root slot, followed by a run-length list of
// (offset_from_previous, confirmation_count) pairs. voted_slot_i =
// voted_slot_{i-1} + offset_i, seeded by the root. The layout is this
// package's own compact form and is not checked against the on-chain
// vote program's encoding: a 1-byte root-presence flag (+8 bytes LE root
// if present), a 1-byte lockout count, then count * (1-byte offset,
// 1-byte confirmation count).
func decodeTowerSync(data []byte) ([]uint64, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("tower sync payload empty")
	}
	hasRoot := data[0] != 0
	data = data[1:]

	var root uint64
	if hasRoot {
		if len(data) < 8 {
			return nil, fmt.Errorf("tower sync payload too short for root slot")
		}
		root = binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
	}

	if len(data) < 1 {
		return nil, fmt.Errorf("tower sync payload too short for lockout count")
	}
	count := int(data[0])
	data = data[1:]
	if len(data) < count*2 {
		return nil, fmt.Errorf("tower sync payload too short for %d lockouts", count)
	}

	slots := make([]uint64, count)
	previous := root
	for i := 0; i < count; i++ {
		offset := uint64(data[i*2])
		previous += offset
		slots[i] = previous
	}
	return slots, nil
}
