// Package chain defines the Chain Client Port (spec §4.3): a narrow
// interface over whatever blockchain backs a VDR method driver. Nothing in
// this package talks to a concrete chain; concrete clients live in
// sibling packages (e.g. roochrpc).
package chain

import (
	"context"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
)

// Status is the execution outcome of a view call or transaction.
type Status string

const (
	Executed Status = "Executed"
	Failed   Status = "Failed"
)

// Event is a single chain event emitted by a transaction.
type Event struct {
	Type    string
	Payload []byte
}

// ViewResult is the outcome of a CallView.
type ViewResult struct {
	Status       Status
	ReturnValues [][]byte
}

// TxResult is the outcome of a SendTx.
type TxResult struct {
	Status Status
	Events []Event
}

// Tx describes an entry-function invocation: the fully qualified target
// (e.g. "0x3::did::create_did_object_for_self_entry") and its positional
// arguments, already serialized to the chain's argument encoding.
type Tx struct {
	Target string
	Args   [][]byte
}

// Signer is the opaque signing capability used for transactions (design
// note in spec §9: permission pre-checks never inspect private material).
type Signer interface {
	Sign(payload []byte, keyID string) ([]byte, error)
	AddressOf() string
}

// Client is the Chain Client Port. All methods may suspend on network I/O
// except DeriveChannelID and NodeURLForNetwork, which are pure.
type Client interface {
	// CallView invokes a read-only view function.
	CallView(ctx context.Context, target string, args [][]byte) (ViewResult, error)
	// SendTx submits a transaction signed by signer and waits for its result.
	SendTx(ctx context.Context, tx Tx, signer Signer) (TxResult, error)
	// DeriveChannelID replicates the chain's deterministic channel-id
	// computation: Keccak256(structTag || payerDID || payeeDID || assetID).
	DeriveChannelID(payerDID, payeeDID, assetID string) [32]byte
	// NodeURLForNetwork maps a network tag (dev|test|main) to an endpoint.
	NodeURLForNetwork(tag string) (string, error)
}

// channelIDStructTag is the canonical struct-tag prefix mixed into the
// channel-id hash, matching the on-chain Move struct identifier.
const channelIDStructTag = "nuwa_payment_channel::SubChannelId"

// DeriveChannelID is the shared pure implementation of Client.DeriveChannelID,
// usable by any Client implementation (and directly by callers who only
// need the id, not a live chain connection).
func DeriveChannelID(payerDID, payeeDID, assetID string) [32]byte {
	return [32]byte(gethcrypto.Keccak256(
		[]byte(channelIDStructTag),
		[]byte(payerDID),
		[]byte(payeeDID),
		[]byte(assetID),
	))
}

// Network endpoint presets, mirroring the teacher's config.Network table
// but keyed by the three Rooch network tags.
const (
	NetworkDev  = "dev"
	NetworkTest = "test"
	NetworkMain = "main"
)

var networkEndpoints = map[string]string{
	NetworkDev:  "http://localhost:6767",
	NetworkTest: "https://test-seed.rooch.network",
	NetworkMain: "https://main-seed.rooch.network",
}

// NodeURLForNetwork is the shared pure implementation of
// Client.NodeURLForNetwork.
func NodeURLForNetwork(tag string) (string, error) {
	url, ok := networkEndpoints[tag]
	if !ok {
		return "", errs.New(errs.ChainUnreachable, "unknown network tag: "+tag)
	}
	return url, nil
}
