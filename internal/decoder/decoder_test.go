package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(discriminant uint8) []byte {
	b := make([]byte, discriminantHeaderLen)
	binary.LittleEndian.PutUint32(b, uint32(discriminant))
	return b
}

func encodeVoteSlots(discriminant uint8, slots []uint64) []byte {
	buf := header(discriminant)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(slots)))
	buf = append(buf, lenBuf...)
	for _, s := range slots {
		sb := make([]byte, 8)
		binary.LittleEndian.PutUint64(sb, s)
		buf = append(buf, sb...)
	}
	return buf
}

func encodeTowerSync(discriminant uint8, root uint64, offsets []uint8) []byte {
	buf := header(discriminant)
	buf = append(buf, 1) // has root
	rootBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(rootBuf, root)
	buf = append(buf, rootBuf...)
	buf = append(buf, uint8(len(offsets)))
	for _, o := range offsets {
		buf = append(buf, o, 1) // confirmation count unused by decoder
	}
	return buf
}

// E1: single TowerSync instruction, root=994, offsets [1,1,1,1,1,1],
// landed_slot=1000 -> voted slots {995..1000}.
func TestDecodeTransaction_TowerSync_E1(t *testing.T) {
	d := New()
	data := encodeTowerSync(DiscriminantTowerSync, 994, []uint8{1, 1, 1, 1, 1, 1})
	slots := d.DecodeTransaction([]Instruction{{ProgramID: VoteProgramID, Data: data}}, 1000)
	assert.Equal(t, []uint64{995, 996, 997, 998, 999, 1000}, slots)
}

// E2: legacy Vote with slots=[100,100,101] at landed_slot=105 -> dedup
// within the instruction yields voted slots {100, 101}.
func TestDecodeTransaction_LegacyVote_E2(t *testing.T) {
	d := New()
	data := encodeVoteSlots(DiscriminantVote, []uint64{100, 100, 101})
	slots := d.DecodeTransaction([]Instruction{{ProgramID: VoteProgramID, Data: data}}, 105)
	assert.Equal(t, []uint64{100, 101}, slots)
}

// E3: UpdateVoteState with a lockout slot=2000 at landed_slot=1999 -> the
// voted slot exceeds landed_slot and must be dropped entirely.
func TestDecodeTransaction_UpdateVoteState_E3_Skew(t *testing.T) {
	d := New()
	payload := voteStateUpdatePayload{Lockouts: []lockout{{Slot: 2000, ConfirmationCount: 1}}}
	body, err := borsh.Serialize(payload)
	require.NoError(t, err)
	data := append(header(DiscriminantUpdateVoteState), body...)

	slots := d.DecodeTransaction([]Instruction{{ProgramID: VoteProgramID, Data: data}}, 1999)
	assert.Empty(t, slots)
}

func TestDecodeTransaction_IgnoresNonVoteProgram(t *testing.T) {
	d := New()
	data := encodeVoteSlots(DiscriminantVote, []uint64{1, 2, 3})
	slots := d.DecodeTransaction([]Instruction{{ProgramID: "SomeOtherProgram11111111111111111111111111", Data: data}}, 10)
	assert.Empty(t, slots)
}

func TestDecodeTransaction_UnknownDiscriminantSkipped(t *testing.T) {
	d := New()
	data := header(99)
	slots := d.DecodeTransaction([]Instruction{{ProgramID: VoteProgramID, Data: data}}, 10)
	assert.Empty(t, slots)
}

func TestDecodeTransaction_MalformedPayloadDoesNotPanic(t *testing.T) {
	d := New()
	data := header(DiscriminantVote) // no slots length/body at all
	assert.NotPanics(t, func() {
		slots := d.DecodeTransaction([]Instruction{{ProgramID: VoteProgramID, Data: data}}, 10)
		assert.Empty(t, slots)
	})
}

// Encoding a known slot set and decoding it yields the same slots back,
// deduplicated and filtered by <= landed_slot.
func TestDecodeTransaction_RoundTrip_LegacyVote(t *testing.T) {
	d := New()
	slots := []uint64{10, 11, 12, 12, 13}
	data := encodeVoteSlots(DiscriminantVoteSwitch, slots)
	got := d.DecodeTransaction([]Instruction{{ProgramID: VoteProgramID, Data: data}}, 20)
	assert.Equal(t, []uint64{10, 11, 12, 13}, got)
}

func TestDecodeTransaction_MultipleVoteInstructionsConcatenate(t *testing.T) {
	d := New()
	first := encodeVoteSlots(DiscriminantVote, []uint64{1, 2})
	second := encodeTowerSync(DiscriminantTowerSync, 2, []uint8{1})
	slots := d.DecodeTransaction([]Instruction{
		{ProgramID: VoteProgramID, Data: first},
		{ProgramID: VoteProgramID, Data: second},
	}, 10)
	assert.Equal(t, []uint64{1, 2, 3}, slots)
}
