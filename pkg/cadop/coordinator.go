package cadop

import (
	"context"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/nuwa-go/pkg/chain"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/vdr"
)

// Coordinator drives the custodian-assisted onboarding flow on top of a
// vdr.Registry. It holds a reference to its own service DID (resolved
// through the registry on demand, so a rotated custodian key takes effect
// without restarting the coordinator) and a single custodian signer used
// for every CADOP creation and service mutation (spec §4.6).
type Coordinator struct {
	registry        *vdr.Registry
	serviceDID      string
	custodianSigner chain.Signer
}

// New builds a Coordinator over the given VDR registry, bound to
// serviceDID (the document carrying this coordinator's CustodianService
// entry) and custodianSigner (the signer used for CADOP creation and
// service mutations).
func New(registry *vdr.Registry, serviceDID string, custodianSigner chain.Signer) *Coordinator {
	return &Coordinator{registry: registry, serviceDID: serviceDID, custodianSigner: custodianSigner}
}

// CreateDID creates a new DID directly via the named method driver (the
// non-custodian-assisted path, e.g. a did:key self-creation).
func (c *Coordinator) CreateDID(ctx context.Context, method string, req vdr.CreateRequest, opts vdr.MutationOptions) (model.CreationResult, error) {
	result, err := c.registry.Create(ctx, method, req, opts)
	if err != nil {
		return model.CreationResult{}, err
	}
	zap.L().Info("CADOP: created DID", zap.String("did", result.DID), zap.String("method", method))
	return result, nil
}

// custodianService resolves the coordinator's own service document and
// locates its CustodianService catalog entry.
func (c *Coordinator) custodianService(ctx context.Context) (model.Service, error) {
	doc, err := c.registry.Resolve(ctx, c.serviceDID)
	if err != nil {
		return model.Service{}, err
	}
	for _, svc := range doc.Service {
		if svc.Type == string(CustodianService) {
			return svc, nil
		}
	}
	return model.Service{}, errs.New(errs.BillingConfigError, "service document "+c.serviceDID+" has no CustodianService entry")
}

// CreateDIDViaCADOP onboards a user via CADOP (spec §4.6): it reads the
// coordinator's own CustodianService entry's custodianPublicKeyMultibase
// and custodianServiceVMType properties off the currently resolved
// document, builds the CADOP creation request from them, and delegates to
// the VDR registry's createViaCADOP entry point using the custodian
// signer.
func (c *Coordinator) CreateDIDViaCADOP(ctx context.Context, method, userDIDKey string) (model.CreationResult, error) {
	svc, err := c.custodianService(ctx)
	if err != nil {
		return model.CreationResult{}, err
	}

	req := vdr.CADOPCreateRequest{
		UserDIDKey:                  userDIDKey,
		CustodianPublicKeyMultibase: svc.Properties["custodianPublicKeyMultibase"],
		CustodianServiceVMType:      model.KeyType(svc.Properties["custodianServiceVMType"]),
	}
	result, err := c.registry.CreateViaCADOP(ctx, method, req, vdr.MutationOptions{Signer: c.custodianSigner})
	if err != nil {
		return model.CreationResult{}, err
	}
	zap.L().Info("CADOP: created DID via custodian", zap.String("did", result.DID), zap.String("method", method))
	return result, nil
}

// AddService validates svc against the catalog before wiring it onto did,
// so an invalid custodian/identity-provider/proof service is rejected
// client-side rather than burning a transaction.
func (c *Coordinator) AddService(ctx context.Context, did string, svc model.Service, opts vdr.MutationOptions) error {
	if err := Validate(svc); err != nil {
		return err
	}
	if err := c.registry.AddService(ctx, did, svc, opts); err != nil {
		return err
	}
	zap.L().Info("CADOP: added service", zap.String("did", did), zap.String("type", svc.Type))
	return nil
}

// RemoveService detaches a previously registered service by fragment.
func (c *Coordinator) RemoveService(ctx context.Context, did, fragment string, opts vdr.MutationOptions) error {
	if err := c.registry.RemoveService(ctx, did, fragment, opts); err != nil {
		return err
	}
	zap.L().Info("CADOP: removed service", zap.String("did", did), zap.String("fragment", fragment))
	return nil
}

// Resolve is a convenience pass-through used by callers that only hold a
// Coordinator, not the underlying registry.
func (c *Coordinator) Resolve(ctx context.Context, did string) (*model.Document, error) {
	return c.registry.Resolve(ctx, did)
}
