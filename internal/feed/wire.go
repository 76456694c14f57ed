// Package feed is a push-feed client speaking the de-facto
// Yellowstone/Geyser subscription schema over google.golang.org/grpc. No
// generated protobuf stubs for this schema are available and protoc
// cannot be run here, so the wire types below are plain structs sent
// through a JSON codec rather than proto-generated message types.
package feed

// CommitmentLevel mirrors the commitment strings accepted by pkg/rpc.
type CommitmentLevel string

const (
	CommitmentProcessed CommitmentLevel = "processed"
	CommitmentConfirmed CommitmentLevel = "confirmed"
	CommitmentFinalized CommitmentLevel = "finalized"
)

// SubscribeRequest describes one logical stream's filter: slot updates
// at Commitment, vote transactions touching AccountInclude, and
// optionally account updates for the same set (telemetry only, never fed
// into the latency pipeline).
type SubscribeRequest struct {
	Slots        map[string]SlotFilter        `json:"slots"`
	Transactions map[string]TransactionFilter `json:"transactions"`
	Accounts     map[string]AccountFilter     `json:"accounts,omitempty"`
	Commitment   CommitmentLevel              `json:"commitment"`
}

// SlotFilter has no fields in the de-facto schema; a present entry
// subscribes to slot updates at the request's commitment level.
type SlotFilter struct{}

// TransactionFilter restricts delivery to vote-program transactions that
// reference any of AccountInclude and excludes failed transactions.
type TransactionFilter struct {
	Vote           bool     `json:"vote"`
	Failed         bool     `json:"failed"`
	AccountInclude []string `json:"account_include"`
}

// AccountFilter restricts account-update delivery to the given accounts.
type AccountFilter struct {
	Account []string `json:"account"`
}

// SubscribeUpdate is the tagged union of everything the feed can push.
// Kind names the update; slot, transaction and account updates carry the
// matching SlotUpdate/TransactionUpdate/AccountUpdate field, and a ping
// carries no payload.
type SubscribeUpdate struct {
	Kind              UpdateKind         `json:"kind"`
	SlotUpdate        *SlotUpdate        `json:"slot,omitempty"`
	TransactionUpdate *TransactionUpdate `json:"transaction,omitempty"`
	AccountUpdate     *AccountUpdate     `json:"account,omitempty"`
}

type UpdateKind string

const (
	UpdateKindSlot        UpdateKind = "slot"
	UpdateKindTransaction UpdateKind = "transaction"
	UpdateKindAccount     UpdateKind = "account"
	UpdateKindPing        UpdateKind = "ping"
)

// SlotUpdate carries a newly observed slot, fed to the slot clock's
// Observe.
type SlotUpdate struct {
	Slot   uint64 `json:"slot"`
	Status string `json:"status"`
}

// TransactionUpdate carries one landed transaction: the enclosing slot,
// the transaction's account keys (searched against the registry to find
// the voting validator, and indexed by each instruction's
// ProgramIDIndex), and the raw instructions for the decoder.
type TransactionUpdate struct {
	Slot         uint64            `json:"slot"`
	Signature    string            `json:"signature"`
	IsVote       bool              `json:"is_vote"`
	AccountKeys  []string          `json:"account_keys"`
	Instructions []WireInstruction `json:"instructions"`
}

// WireInstruction is one instruction from a landed transaction, addressed
// by index into the enclosing transaction's AccountKeys.
type WireInstruction struct {
	ProgramIDIndex int    `json:"program_id_index"`
	Data           []byte `json:"data"`
}

// AccountUpdate is delivered only when account filters are configured; it
// is logged for telemetry and never used to compute latency.
type AccountUpdate struct {
	Slot     uint64 `json:"slot"`
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
}
