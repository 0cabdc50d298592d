// Package servicekit implements the Service Kit (C11): registration of
// free/paid operations, injection of the Payment Processor between
// transport parsing and handler invocation, and the built-in
// discovery/health/recovery/commit/admin operations. Transports (HTTP,
// tool-call JSON-RPC) are plug-ins over the Handler contract below; none
// of that wire framing lives in this package (spec §1 Non-goals).
package servicekit

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/nuwa-go/pkg/billing"
	"github.com/nuwa-protocol/nuwa-go/pkg/config"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/payment"
	"github.com/nuwa-protocol/nuwa-go/pkg/servicekit/schema"
)

// Handler executes a registered operation's business logic. state carries
// the channel/sub-channel identity and verification outcome established by
// PreProcess, so handlers that need to inspect payment context (recovery,
// commit) don't have to re-derive it from params. Handler returns a result
// payload and the number of billing units consumed (ignored for
// fixed-price and free operations).
type Handler func(ctx context.Context, state *payment.RequestState, params json.RawMessage) (result any, units uint64, err error)

// Operation is one registered entry in the kit's operation table.
type Operation struct {
	Name    string
	Schema  *schema.Schema // nil means "no parameter validation"
	Handler Handler
}

// Request is everything a transport adapter must supply to Invoke.
type Request struct {
	Operation     string
	ClientTxRef   string
	ChannelID     [32]byte
	VMIDFragment  string
	AssetID       string
	CallerDID     string
	PayerDocument *model.Document
	SignedRAV     *model.SignedSubRAV
	Params        json.RawMessage
}

// Response is what Invoke returns to the transport adapter.
type Response struct {
	Result   any
	Envelope payment.Envelope
}

// Kit wires operation registration to the payment pipeline.
type Kit struct {
	env       *config.Environment
	processor *payment.Processor
	matcher   *billing.Matcher

	serviceID      string
	serviceDID     string
	defaultAssetID string

	mu         sync.RWMutex
	operations map[string]Operation
	started    bool
}

// New constructs an unstarted Kit. Built-in operations are not registered
// until Start is called.
func New(env *config.Environment, processor *payment.Processor, matcher *billing.Matcher, serviceID, serviceDID string) *Kit {
	return &Kit{
		env:            env,
		processor:      processor,
		matcher:        matcher,
		serviceID:      serviceID,
		serviceDID:     serviceDID,
		defaultAssetID: env.DefaultAssetID,
		operations:     make(map[string]Operation),
	}
}

// Register adds a paid or free operation. Registration is refused once
// the kit has started (spec §4.11 "the kit refuses registration after
// start").
func (k *Kit) Register(op Operation) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return errs.New(errs.BillingConfigError, "cannot register operation "+op.Name+" after start")
	}
	if op.Handler == nil {
		return errs.New(errs.BillingConfigError, "operation "+op.Name+" has no handler")
	}
	k.operations[op.Name] = op
	return nil
}

// Start freezes the registration table and wires in the built-in
// operations. Calling Start twice is a no-op.
func (k *Kit) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return nil
	}
	k.registerBuiltins()
	k.started = true
	zap.L().Info("service kit started", zap.Int("operations", len(k.operations)), zap.String("serviceDid", k.serviceDID))
	return nil
}

func (k *Kit) lookup(name string) (Operation, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	op, ok := k.operations[name]
	return op, ok
}

// Close shuts the kit down: further Invoke calls are refused. It does not
// touch the underlying storage ports, which outlive any one Kit instance.
func (k *Kit) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.operations = make(map[string]Operation)
	zap.L().Info("service kit closed", zap.String("serviceDid", k.serviceDID))
}

// Invoke runs the full request lifecycle: rule lookup, preProcess,
// parameter validation, handler execution, settle, and persist.
// Verification failures and Settle's pricing failures travel in the
// envelope as a typed error alongside the echoed clientTxRef. Errors from
// PreProcess, parameter validation, the handler and Persist are returned
// as Go errors with no envelope, and a panicking handler is not recovered.
func (k *Kit) Invoke(ctx context.Context, req Request) (Response, error) {
	op, ok := k.lookup(req.Operation)
	if !ok {
		return Response{}, errs.New(errs.MethodUnsupported, "unregistered operation: "+req.Operation)
	}

	if k.matcher.IsAdminOnly(req.Operation) && !k.env.IsAdmin(req.CallerDID) {
		return Response{}, errs.New(errs.PermissionDenied, "operation "+req.Operation+" requires an admin caller")
	}

	assetID := req.AssetID
	if assetID == "" {
		assetID = k.defaultAssetID
	}

	state := &payment.RequestState{
		Operation:     req.Operation,
		ClientTxRef:   req.ClientTxRef,
		ChannelID:     req.ChannelID,
		VMIDFragment:  req.VMIDFragment,
		AssetID:       assetID,
		PayerDocument: req.PayerDocument,
		SignedRAV:     req.SignedRAV,
	}

	if err := k.processor.PreProcess(ctx, state); err != nil {
		return Response{}, err
	}

	params := req.Params
	if op.Schema != nil && len(params) > 0 {
		if _, err := op.Schema.ValidateAndDecode(params); err != nil {
			return Response{}, err
		}
	}

	var result any
	var units uint64
	if state.Outcome.Decision == payment.DecisionAllow {
		var err error
		result, units, err = op.Handler(ctx, state, params)
		if err != nil {
			return Response{}, err
		}
	}

	if err := k.processor.Settle(ctx, state, units); err != nil {
		return Response{}, err
	}
	if err := k.processor.Persist(ctx, state); err != nil {
		return Response{}, err
	}

	return Response{Result: result, Envelope: state.Envelope}, nil
}
