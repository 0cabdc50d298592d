// Package vdr implements the VDR Registry + Method Drivers (spec §4.5): a
// method-routing facade over a closed-at-startup set of per-method
// drivers, generalizing the teacher's dynamic-method-dispatch pattern
// (spec §9 design note) into an explicit interface with registered
// implementations instead of runtime reflection.
package vdr

import (
	"context"
	"strings"

	"github.com/nuwa-protocol/nuwa-go/pkg/chain"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// CreateRequest carries the information needed to create a new DID.
// PreferredDID is advisory only for drivers whose identifiers are
// chain-allocated (spec §4.5 rooch driver).
type CreateRequest struct {
	PreferredDID       string
	PublicKeyMultibase string
	KeyType            model.KeyType
}

// CADOPCreateRequest carries a CADOP-flavored creation request: a user's
// did:key plus the custodian service's own verification material.
type CADOPCreateRequest struct {
	UserDIDKey                  string
	CustodianPublicKeyMultibase string
	CustodianServiceVMType      model.KeyType
}

// MutationOptions overrides the signer used for a single mutating call;
// with a nil Signer the did:rooch driver uses its constructor default,
// while the did:key driver rejects the call with NO_SIGNER.
type MutationOptions struct {
	Signer chain.Signer
}

// Driver is a per-method VDR implementation.
type Driver interface {
	Method() string
	Resolve(ctx context.Context, did string) (*model.Document, error)
	Exists(ctx context.Context, did string) (bool, error)
	Create(ctx context.Context, req CreateRequest, opts MutationOptions) (model.CreationResult, error)
	CreateViaCADOP(ctx context.Context, req CADOPCreateRequest, opts MutationOptions) (model.CreationResult, error)
	AddVerificationMethod(ctx context.Context, did string, vm model.VerificationMethod, relationships []model.Relationship, opts MutationOptions) error
	RemoveVerificationMethod(ctx context.Context, did, fragment string, opts MutationOptions) error
	AddService(ctx context.Context, did string, svc model.Service, opts MutationOptions) error
	RemoveService(ctx context.Context, did, fragment string, opts MutationOptions) error
	UpdateRelationships(ctx context.Context, did, fragment string, add, remove []model.Relationship, opts MutationOptions) error
}

// Registry routes DID operations to the driver matching the DID's method
// prefix. The driver set is fixed at construction time.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds a Registry from the given drivers, keyed by
// Driver.Method().
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Method()] = d
	}
	return r
}

// method extracts the method segment from "did:<method>:<id>".
func method(did string) (string, error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) < 2 || parts[0] != "did" {
		return "", errs.New(errs.MethodUnsupported, "malformed DID: "+did)
	}
	return parts[1], nil
}

func (r *Registry) driverFor(did string) (Driver, error) {
	m, err := method(did)
	if err != nil {
		return nil, err
	}
	d, ok := r.drivers[m]
	if !ok {
		return nil, errs.New(errs.MethodUnsupported, "unsupported DID method: "+m)
	}
	return d, nil
}

func (r *Registry) Resolve(ctx context.Context, did string) (*model.Document, error) {
	d, err := r.driverFor(did)
	if err != nil {
		return nil, err
	}
	return d.Resolve(ctx, did)
}

func (r *Registry) Exists(ctx context.Context, did string) (bool, error) {
	d, err := r.driverFor(did)
	if err != nil {
		return false, err
	}
	return d.Exists(ctx, did)
}

// Create routes to the driver named by methodName (the registry cannot
// infer a method from a not-yet-existing DID).
func (r *Registry) Create(ctx context.Context, methodName string, req CreateRequest, opts MutationOptions) (model.CreationResult, error) {
	d, ok := r.drivers[methodName]
	if !ok {
		return model.CreationResult{}, errs.New(errs.MethodUnsupported, "unsupported DID method: "+methodName)
	}
	return d.Create(ctx, req, opts)
}

func (r *Registry) CreateViaCADOP(ctx context.Context, methodName string, req CADOPCreateRequest, opts MutationOptions) (model.CreationResult, error) {
	d, ok := r.drivers[methodName]
	if !ok {
		return model.CreationResult{}, errs.New(errs.MethodUnsupported, "unsupported DID method: "+methodName)
	}
	return d.CreateViaCADOP(ctx, req, opts)
}

func (r *Registry) AddVerificationMethod(ctx context.Context, did string, vm model.VerificationMethod, relationships []model.Relationship, opts MutationOptions) error {
	d, err := r.driverFor(did)
	if err != nil {
		return err
	}
	return d.AddVerificationMethod(ctx, did, vm, relationships, opts)
}

func (r *Registry) RemoveVerificationMethod(ctx context.Context, did, fragment string, opts MutationOptions) error {
	d, err := r.driverFor(did)
	if err != nil {
		return err
	}
	return d.RemoveVerificationMethod(ctx, did, fragment, opts)
}

func (r *Registry) AddService(ctx context.Context, did string, svc model.Service, opts MutationOptions) error {
	d, err := r.driverFor(did)
	if err != nil {
		return err
	}
	return d.AddService(ctx, did, svc, opts)
}

func (r *Registry) RemoveService(ctx context.Context, did, fragment string, opts MutationOptions) error {
	d, err := r.driverFor(did)
	if err != nil {
		return err
	}
	return d.RemoveService(ctx, did, fragment, opts)
}

func (r *Registry) UpdateRelationships(ctx context.Context, did, fragment string, add, remove []model.Relationship, opts MutationOptions) error {
	d, err := r.driverFor(did)
	if err != nil {
		return err
	}
	return d.UpdateRelationships(ctx, did, fragment, add, remove, opts)
}
