package servicekit

import (
	"context"
	"encoding/json"

	"github.com/nuwa-protocol/nuwa-go/pkg/payment"
)

// discoveryResult is the nuwa.discovery response body (spec §4.11).
type discoveryResult struct {
	ServiceID      string `json:"serviceId"`
	ServiceDID     string `json:"serviceDid"`
	DefaultAssetID string `json:"defaultAssetId"`
}

// healthResult is the nuwa.health response body.
type healthResult struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ravSnapshot echoes a RAV's (nonce, accumulatedAmount) pair, used by both
// nuwa.recovery and nuwa.subrav.query.
type ravSnapshot struct {
	Found  bool   `json:"found"`
	Nonce  uint64 `json:"nonce,omitempty"`
	Amount string `json:"accumulatedAmount,omitempty"`
}

type commitResult struct {
	Accepted bool `json:"accepted"`
}

// registerBuiltins installs the fixed catalog of always-available
// operations. Called once from Start while the kit still holds its
// write lock.
func (k *Kit) registerBuiltins() {
	k.operations["nuwa.discovery"] = Operation{
		Name: "nuwa.discovery",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			return discoveryResult{ServiceID: k.serviceID, ServiceDID: k.serviceDID, DefaultAssetID: k.defaultAssetID}, 0, nil
		},
	}

	k.operations["nuwa.health"] = Operation{
		Name: "nuwa.health",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			return healthResult{Status: "healthy", Service: k.serviceDID}, 0, nil
		},
	}

	// nuwa.recovery returns the latest pending (unsigned-by-client)
	// proposal for the caller's sub-channel, letting a client that lost
	// its local state resume countersigning from the server's record.
	k.operations["nuwa.recovery"] = Operation{
		Name: "nuwa.recovery",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			pending, found, err := k.processor.Pending.FindLatestBySubChannel(ctx, state.ChannelID, state.VMIDFragment)
			if err != nil {
				return nil, 0, err
			}
			if !found {
				return ravSnapshot{}, 0, nil
			}
			return ravSnapshot{Found: true, Nonce: pending.SubRAV.Nonce, Amount: pending.SubRAV.AccumulatedAmount.String()}, 0, nil
		},
	}

	// nuwa.commit ingests a signed SubRAV out-of-band. Verification and
	// persistence already happened in PreProcess; this handler just
	// reports whether that verification succeeded.
	k.operations["nuwa.commit"] = Operation{
		Name: "nuwa.commit",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			return commitResult{Accepted: state.Outcome.SignedVerified}, 0, nil
		},
	}

	k.operations["nuwa.admin.status"] = Operation{
		Name: "nuwa.admin.status",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			return map[string]any{"operations": k.operationNames()}, 0, nil
		},
	}

	k.operations["nuwa.admin.claimTrigger"] = Operation{
		Name: "nuwa.admin.claimTrigger",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			if err := k.processor.ClaimTriggerFor(ctx, state.ChannelID, state.VMIDFragment); err != nil {
				return nil, 0, err
			}
			return map[string]any{"triggered": true}, 0, nil
		},
	}

	// nuwa.subrav.query returns the latest signed RAV on record for the
	// caller's sub-channel (spec §4.11 mentions the operation without
	// detailing its shape; this mirrors nuwa.recovery but over confirmed
	// rather than pending state).
	k.operations["nuwa.subrav.query"] = Operation{
		Name: "nuwa.subrav.query",
		Handler: func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (any, uint64, error) {
			latest, found, err := k.processor.RAVs.GetLatest(ctx, state.ChannelID, state.VMIDFragment)
			if err != nil {
				return nil, 0, err
			}
			if !found {
				return ravSnapshot{}, 0, nil
			}
			return ravSnapshot{Found: true, Nonce: latest.Nonce, Amount: latest.AccumulatedAmount.String()}, 0, nil
		},
	}
}

func (k *Kit) operationNames() []string {
	names := make([]string, 0, len(k.operations))
	for name := range k.operations {
		names = append(names, name)
	}
	return names
}
