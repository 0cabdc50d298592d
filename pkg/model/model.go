// Package model holds the shared data types for DID Documents, payment
// channels, SubRAVs and billing rules. It has no dependency on any other
// package in this module, mirroring the teacher's leaf "model" package.
package model

import (
	"math/big"
	"time"
)

// Relationship identifies one of the five verification-relationship lists
// a DID Document carries. The numeric value is the stable tag used in
// on-chain calls (spec §3).
type Relationship uint8

const (
	Authentication Relationship = iota
	AssertionMethod
	CapabilityInvocation
	CapabilityDelegation
	KeyAgreement
)

func (r Relationship) String() string {
	switch r {
	case Authentication:
		return "authentication"
	case AssertionMethod:
		return "assertionMethod"
	case CapabilityInvocation:
		return "capabilityInvocation"
	case CapabilityDelegation:
		return "capabilityDelegation"
	case KeyAgreement:
		return "keyAgreement"
	default:
		return "unknown"
	}
}

// KeyType enumerates the supported verification-method key types.
type KeyType string

const (
	Ed25519VerificationKey2020       KeyType = "Ed25519VerificationKey2020"
	EcdsaSecp256k1VerificationKey2019 KeyType = "EcdsaSecp256k1VerificationKey2019"
)

// VerificationMethod is one entry in a DID Document's verificationMethod list.
type VerificationMethod struct {
	ID                 string
	Type               KeyType
	Controller         string
	PublicKeyMultibase string
}

// Fragment returns the "#fragment" suffix of the verification method id.
func (vm VerificationMethod) Fragment() string {
	for i := len(vm.ID) - 1; i >= 0; i-- {
		if vm.ID[i] == '#' {
			return vm.ID[i+1:]
		}
	}
	return ""
}

// Service is a service endpoint entry in a DID Document.
type Service struct {
	ID              string
	Type            string
	ServiceEndpoint string
	Properties      map[string]string
}

// Document is the in-memory representation of a resolved DID Document.
type Document struct {
	ID                   string
	Controller           []string
	VerificationMethod   []VerificationMethod
	Authentication       []string
	AssertionMethod      []string
	CapabilityInvocation []string
	CapabilityDelegation []string
	KeyAgreement         []string
	Service              []Service
}

// RelationshipIDs returns the verification-method id list for the given
// relationship, or nil for an unrecognized value.
func (d *Document) RelationshipIDs(r Relationship) []string {
	switch r {
	case Authentication:
		return d.Authentication
	case AssertionMethod:
		return d.AssertionMethod
	case CapabilityInvocation:
		return d.CapabilityInvocation
	case CapabilityDelegation:
		return d.CapabilityDelegation
	case KeyAgreement:
		return d.KeyAgreement
	default:
		return nil
	}
}

// SetRelationshipIDs replaces the verification-method id list for r.
func (d *Document) SetRelationshipIDs(r Relationship, ids []string) {
	switch r {
	case Authentication:
		d.Authentication = ids
	case AssertionMethod:
		d.AssertionMethod = ids
	case CapabilityInvocation:
		d.CapabilityInvocation = ids
	case CapabilityDelegation:
		d.CapabilityDelegation = ids
	case KeyAgreement:
		d.KeyAgreement = ids
	}
}

// FindVerificationMethod returns the verification method with the given id.
func (d *Document) FindVerificationMethod(id string) (VerificationMethod, bool) {
	for _, vm := range d.VerificationMethod {
		if vm.ID == id {
			return vm, true
		}
	}
	return VerificationMethod{}, false
}

// HasRelationship reports whether vmID appears in the given relationship list.
func (d *Document) HasRelationship(vmID string, r Relationship) bool {
	for _, id := range d.RelationshipIDs(r) {
		if id == vmID {
			return true
		}
	}
	return false
}

// ChannelStatus is the lifecycle state of a Channel.
type ChannelStatus string

const (
	ChannelOpen    ChannelStatus = "open"
	ChannelClosing ChannelStatus = "closing"
	ChannelClosed  ChannelStatus = "closed"
)

// Channel is a payment channel keyed by a deterministic id derived from
// (payerDID, payeeDID, assetID).
type Channel struct {
	ChannelID [32]byte
	PayerDID  string
	PayeeDID  string
	AssetID   string
	Status    ChannelStatus
	Epoch     uint64
}

// SubChannel is the per-verification-method accounting slot inside a Channel.
type SubChannel struct {
	ChannelID          [32]byte
	VMIDFragment       string
	Epoch              uint64
	LastConfirmedNonce uint64
	LastClaimedAmount  *big.Int
	LastUpdated        time.Time
}

// SubRAV is the canonical seven-field payment voucher (spec §3).
type SubRAV struct {
	Version           uint8
	ChainID           uint64
	ChannelID         [32]byte
	ChannelEpoch      uint64
	VMIDFragment      string
	AccumulatedAmount *big.Int
	Nonce             uint64
}

// CurrentSubRAVVersion is the only version this implementation produces.
const CurrentSubRAVVersion uint8 = 1

// SignedSubRAV pairs a SubRAV with a signature over its canonical encoding.
type SignedSubRAV struct {
	SubRAV
	Signature []byte
}

// PendingProposal is a server-generated unsigned SubRAV awaiting the
// client's countersignature.
type PendingProposal struct {
	SubRAV    SubRAV
	CreatedAt time.Time
}

// Key returns the (channelId, vmIdFragment, nonce) identity of the proposal.
func (p PendingProposal) Key() (channelID [32]byte, vmIDFragment string, nonce uint64) {
	return p.SubRAV.ChannelID, p.SubRAV.VMIDFragment, p.SubRAV.Nonce
}

// BillingStrategy selects how a rule's cost is computed.
type BillingStrategy string

const (
	StrategyFixed   BillingStrategy = "fixed"
	StrategyPerUnit BillingStrategy = "per_unit"
	StrategyFree    BillingStrategy = "none"
)

// BillingRule matches an operation name to a pricing and access policy.
type BillingRule struct {
	ID              string
	Pattern         string
	PaymentRequired bool
	Strategy        BillingStrategy
	// UnitPriceUSD is pico-USD per request (StrategyFixed) or per unit
	// (StrategyPerUnit).
	UnitPriceUSD *big.Int
	AuthRequired bool
	AdminOnly    bool
}

// Cost is the priced outcome of a billing decision: usdCost is always
// populated (pico-USD); assetCost is populated once a rate is applied.
type Cost struct {
	USDCost   *big.Int
	AssetCost *big.Int
}

// CreationResult is returned by VDR create/createViaCADOP operations.
type CreationResult struct {
	Success bool
	DID     string
	Warning string
}
