// Package config defines the runtime configuration for the core: chain RPC
// endpoint, network tag, default billing asset, admin access, and
// operation timeouts. It also provides validation and defaulting helpers,
// following the teacher's Config/Timeouts split (pkg/config/config.go).
package config

import (
	"errors"
	"math/big"
	"time"
)

// NetworkTag selects which Rooch deployment the Chain Client Port talks
// to; NodeURLForNetwork in pkg/chain maps this to a concrete endpoint.
type NetworkTag string

const (
	NetworkDev  NetworkTag = "dev"
	NetworkTest NetworkTag = "test"
	NetworkMain NetworkTag = "main"
)

// DefaultAssetID is the billing asset used when a deployment does not
// configure one explicitly (spec §6 Environment).
const DefaultAssetID = "0x3::gas_coin::RGas"

// Environment holds all settings required to initialize the Chain Client,
// VDR drivers, and Payment Processor. Use Validate to fill implicit
// defaults and check required fields.
type Environment struct {
	// RPCEndpoint is the chain JSON-RPC endpoint URL. Empty means "derive
	// from Network via NodeURLForNetwork".
	RPCEndpoint string
	// Network selects dev|test|main.
	Network NetworkTag
	// DefaultAssetID is the asset billed against when a request does not
	// specify one.
	DefaultAssetID string
	// DefaultUnitPriceUSD is a pico-USD unit price setting. Billing rules
	// carry their own UnitPriceUSD and do not read this field.
	DefaultUnitPriceUSD *big.Int
	// AdminDIDs lists DIDs permitted to call admin-gated operations.
	AdminDIDs []string
	// Debug enables verbose logging.
	Debug bool
	// Timeouts configures per-operation deadlines. See Timeouts.WithDefaults.
	Timeouts Timeouts
}

// Timeouts holds operation deadlines for the chain client, storage ports,
// and rate provider. Validate fills the defaults; the components in this
// module do not read these values.
type Timeouts struct {
	ChainRead     time.Duration // callView
	ChainSubmit   time.Duration // sendTx submission
	ReceiptWait   time.Duration // sendTx confirmation polling
	StorageOp     time.Duration // repository calls
	RateLookup    time.Duration // rate provider HTTP calls
	PendingSweep  time.Duration // pending-RAV cleanup cadence
}

// Validate normalizes the environment by applying implicit defaults for
// DefaultAssetID and Network, and verifies RPCEndpoint or Network is set.
func (e *Environment) Validate() error {
	if e.RPCEndpoint == "" && e.Network == "" {
		return errors.New("either rpc endpoint or network tag is required")
	}
	if e.DefaultAssetID == "" {
		e.DefaultAssetID = DefaultAssetID
	}
	if e.Network == "" {
		e.Network = NetworkDev
	}
	if e.DefaultUnitPriceUSD == nil {
		e.DefaultUnitPriceUSD = big.NewInt(0)
	}
	e.Timeouts = e.Timeouts.WithDefaults()
	return nil
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	ChainRead:    13s
//	ChainSubmit:  25s
//	ReceiptWait:  90s
//	StorageOp:    5s
//	RateLookup:   10s
//	PendingSweep: 5m
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.ChainRead == 0 {
		tt.ChainRead = 13 * time.Second
	}
	if tt.ChainSubmit == 0 {
		tt.ChainSubmit = 25 * time.Second
	}
	if tt.ReceiptWait == 0 {
		tt.ReceiptWait = 90 * time.Second
	}
	if tt.StorageOp == 0 {
		tt.StorageOp = 5 * time.Second
	}
	if tt.RateLookup == 0 {
		tt.RateLookup = 10 * time.Second
	}
	if tt.PendingSweep == 0 {
		tt.PendingSweep = 5 * time.Minute
	}
	return tt
}

// IsAdmin reports whether did is listed in AdminDIDs.
func (e *Environment) IsAdmin(did string) bool {
	for _, a := range e.AdminDIDs {
		if a == did {
			return true
		}
	}
	return false
}
