// Package chaintest provides an in-memory fake chain.Client for driver and
// processor tests, following the teacher's functional-options/interface
// dependency-injection seams (pkg/payment/paid_stategy.go ChainOperations).
package chaintest

import (
	"context"

	"github.com/nuwa-protocol/nuwa-go/pkg/chain"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
)

// Fake is a scriptable chain.Client. Tests set the fields they need and
// leave the rest at their zero value.
type Fake struct {
	ViewResults map[string]chain.ViewResult
	ViewErr     error

	SendTxResult chain.TxResult
	SendTxErr    error

	Calls []string
}

func (f *Fake) CallView(_ context.Context, target string, _ [][]byte) (chain.ViewResult, error) {
	f.Calls = append(f.Calls, "view:"+target)
	if f.ViewErr != nil {
		return chain.ViewResult{}, f.ViewErr
	}
	if r, ok := f.ViewResults[target]; ok {
		return r, nil
	}
	return chain.ViewResult{}, errs.New(errs.ChainUnreachable, "no fake result for "+target)
}

func (f *Fake) SendTx(_ context.Context, tx chain.Tx, signer chain.Signer) (chain.TxResult, error) {
	f.Calls = append(f.Calls, "tx:"+tx.Target)
	if signer == nil {
		return chain.TxResult{}, errs.New(errs.NoSigner, "no signer")
	}
	if f.SendTxErr != nil {
		return chain.TxResult{}, f.SendTxErr
	}
	return f.SendTxResult, nil
}

func (f *Fake) DeriveChannelID(payerDID, payeeDID, assetID string) [32]byte {
	return chain.DeriveChannelID(payerDID, payeeDID, assetID)
}

func (f *Fake) NodeURLForNetwork(tag string) (string, error) {
	return chain.NodeURLForNetwork(tag)
}

var _ chain.Client = (*Fake)(nil)

// Signer is a deterministic fake signer for tests.
type Signer struct {
	Address string
	SignErr error
}

func (s *Signer) Sign(payload []byte, _ string) ([]byte, error) {
	if s.SignErr != nil {
		return nil, s.SignErr
	}
	return append([]byte("sig:"), payload...), nil
}

func (s *Signer) AddressOf() string { return s.Address }

var _ chain.Signer = (*Signer)(nil)
