package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestJSONCodec_RegisteredUnderJSONSubtype(t *testing.T) {
	codec := encoding.GetCodec(jsonCodecName)
	require.NotNil(t, codec)
	assert.Equal(t, jsonCodecName, codec.Name())
}

func TestJSONCodec_RoundTripsSubscribeRequest(t *testing.T) {
	req := SubscribeRequest{
		Slots: map[string]SlotFilter{"all": {}},
		Transactions: map[string]TransactionFilter{
			"votes": {Vote: true, Failed: false, AccountInclude: []string{"abc123"}},
		},
		Commitment: CommitmentConfirmed,
	}

	codec := jsonCodec{}
	data, err := codec.Marshal(&req)
	require.NoError(t, err)

	var got SubscribeRequest
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, req, got)
}

func TestJSONCodec_RoundTripsSubscribeUpdate(t *testing.T) {
	upd := SubscribeUpdate{
		Kind: UpdateKindTransaction,
		TransactionUpdate: &TransactionUpdate{
			Slot:        42,
			Signature:   "sig",
			IsVote:      true,
			AccountKeys: []string{"validator", "voteAccount", "Vote111111111111111111111111111111111111111"},
			Instructions: []WireInstruction{
				{ProgramIDIndex: 2, Data: []byte{0x00, 0x00, 0x00, 0x00}},
			},
		},
	}

	codec := jsonCodec{}
	data, err := codec.Marshal(&upd)
	require.NoError(t, err)

	var got SubscribeUpdate
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, upd, got)
}
