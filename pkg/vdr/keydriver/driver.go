// Package keydriver implements the did:key VDR method driver (spec §4.5):
// a self-resolving method whose document is derived purely from its
// identifier, with an in-memory cache simulating mutation persistence
// across calls within one process. Whether this should survive process
// restarts is an open question the source leaves unresolved (spec §9);
// this driver keeps it strictly in-memory, matching that default.
package keydriver

import (
	"context"
	"sync"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/vdr"
)

const methodName = "key"

// Driver is the did:key method driver. Each instance owns its own mutable
// document cache guarded by mu, matching the teacher's DI pattern of
// keeping mutable state behind a dedicated type rather than a package
// global (pkg/payment/paid_stategy.go PaidStrategyDependencies).
type Driver struct {
	mu    sync.Mutex
	cache map[string]*model.Document
}

// New constructs an empty-cache key driver.
func New() *Driver {
	return &Driver{cache: make(map[string]*model.Document)}
}

// Reset clears the in-memory cache; tests call this in setup so that
// mutations from one test never leak into the next (spec §5 "explicit
// reset() exists for tests").
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]*model.Document)
}

func (d *Driver) Method() string { return methodName }

// derive builds the default single-verification-method document for a
// did:key identifier: one verification method, present in all five
// relationships, matching scenario 2 of spec §8.
func derive(did, multibaseKey string, keyType model.KeyType) *model.Document {
	vmID := did + "#" + multibaseKey
	vmIDs := []string{vmID}
	return &model.Document{
		ID:         did,
		Controller: []string{did},
		VerificationMethod: []model.VerificationMethod{
			{ID: vmID, Type: keyType, Controller: did, PublicKeyMultibase: multibaseKey},
		},
		Authentication:       vmIDs,
		AssertionMethod:      vmIDs,
		CapabilityInvocation: vmIDs,
		CapabilityDelegation: vmIDs,
		KeyAgreement:         vmIDs,
	}
}

// multibaseKeyOf extracts the "<multibase-key>" method-specific id from a
// "did:key:<multibase-key>" string.
func multibaseKeyOf(did string) (string, error) {
	const prefix = "did:key:"
	if len(did) <= len(prefix) || did[:len(prefix)] != prefix {
		return "", errs.New(errs.MethodUnsupported, "not a did:key identifier: "+did)
	}
	return did[len(prefix):], nil
}

func (d *Driver) get(did string) (*model.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.cache[did]; ok {
		return doc, nil
	}
	mb, err := multibaseKeyOf(did)
	if err != nil {
		return nil, err
	}
	// Default key type: the multibase prefix alone does not disambiguate
	// Ed25519 from secp256k1, so new documents default to Ed25519, the
	// common did:key default; callers that need secp256k1 should Create
	// explicitly with KeyType set.
	doc := derive(did, mb, model.Ed25519VerificationKey2020)
	d.cache[did] = doc
	return doc, nil
}

func (d *Driver) Resolve(_ context.Context, did string) (*model.Document, error) {
	doc, err := d.get(did)
	if err != nil {
		return nil, err
	}
	return cloneDoc(doc), nil
}

func (d *Driver) Exists(_ context.Context, did string) (bool, error) {
	if _, err := multibaseKeyOf(did); err != nil {
		return false, nil
	}
	return true, nil
}

func (d *Driver) Create(_ context.Context, req vdr.CreateRequest, _ vdr.MutationOptions) (model.CreationResult, error) {
	if req.PublicKeyMultibase == "" {
		return model.CreationResult{}, errs.New(errs.MultibaseInvalid, "did:key create requires PublicKeyMultibase")
	}
	did := "did:key:" + req.PublicKeyMultibase

	d.mu.Lock()
	if _, ok := d.cache[did]; !ok {
		keyType := req.KeyType
		if keyType == "" {
			keyType = model.Ed25519VerificationKey2020
		}
		d.cache[did] = derive(did, req.PublicKeyMultibase, keyType)
	}
	d.mu.Unlock()

	return model.CreationResult{Success: true, DID: did}, nil
}

// CreateViaCADOP is not meaningful for did:key: the method has no
// custodian concept, since it is fully self-resolving. Callers wanting a
// CADOP-issued DID should target the rooch driver.
func (d *Driver) CreateViaCADOP(_ context.Context, _ vdr.CADOPCreateRequest, _ vdr.MutationOptions) (model.CreationResult, error) {
	return model.CreationResult{}, errs.New(errs.MethodUnsupported, "did:key does not support CADOP creation")
}

// requiredRelationshipFor returns the relationship a signer must control
// to perform the given kind of mutation (spec §4.5: capabilityDelegation
// for keys, capabilityInvocation for services).
func requiredRelationshipFor(forService bool) model.Relationship {
	if forService {
		return model.CapabilityInvocation
	}
	return model.CapabilityDelegation
}

// authorize performs the client-side permission pre-check: opts.Signer's
// address (used here as a stand-in controller identity, since did:key has
// no separate chain account) must equal the PublicKeyMultibase of a
// verification method carrying the required relationship. A signer whose
// address matches no such verification method is rejected.
func (d *Driver) authorize(doc *model.Document, opts vdr.MutationOptions, forService bool) error {
	if opts.Signer == nil {
		return errs.New(errs.NoSigner, "did:key mutation requires a signer")
	}
	addr := opts.Signer.AddressOf()
	rel := requiredRelationshipFor(forService)
	for _, vmID := range doc.RelationshipIDs(rel) {
		vm, ok := doc.FindVerificationMethod(vmID)
		if !ok {
			continue
		}
		if vm.PublicKeyMultibase == addr {
			return nil
		}
	}
	return errs.New(errs.PermissionDenied, "signer does not control required relationship")
}

func (d *Driver) primaryFragment(doc *model.Document) string {
	if len(doc.VerificationMethod) == 0 {
		return ""
	}
	return doc.VerificationMethod[0].Fragment()
}

func (d *Driver) AddVerificationMethod(_ context.Context, did string, vm model.VerificationMethod, relationships []model.Relationship, opts vdr.MutationOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.cache[did]
	if !ok {
		return errs.New(errs.ChannelNotFound, "unknown did:key document: "+did)
	}
	if err := d.authorize(doc, opts, false); err != nil {
		return err
	}
	doc.VerificationMethod = append(doc.VerificationMethod, vm)
	for _, rel := range relationships {
		ids := doc.RelationshipIDs(rel)
		doc.SetRelationshipIDs(rel, append(ids, vm.ID))
	}
	return nil
}

func (d *Driver) RemoveVerificationMethod(_ context.Context, did, fragment string, opts vdr.MutationOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.cache[did]
	if !ok {
		return errs.New(errs.ChannelNotFound, "unknown did:key document: "+did)
	}
	if err := d.authorize(doc, opts, false); err != nil {
		return err
	}
	if fragment == d.primaryFragment(doc) {
		return errs.New(errs.PermissionDenied, "cannot remove the primary verification method")
	}
	vmID := did + "#" + fragment
	kept := doc.VerificationMethod[:0]
	for _, vm := range doc.VerificationMethod {
		if vm.ID != vmID {
			kept = append(kept, vm)
		}
	}
	doc.VerificationMethod = kept
	for _, rel := range []model.Relationship{model.Authentication, model.AssertionMethod, model.CapabilityInvocation, model.CapabilityDelegation, model.KeyAgreement} {
		ids := doc.RelationshipIDs(rel)
		filtered := ids[:0]
		for _, id := range ids {
			if id != vmID {
				filtered = append(filtered, id)
			}
		}
		doc.SetRelationshipIDs(rel, filtered)
	}
	return nil
}

func (d *Driver) AddService(_ context.Context, did string, svc model.Service, opts vdr.MutationOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.cache[did]
	if !ok {
		return errs.New(errs.ChannelNotFound, "unknown did:key document: "+did)
	}
	if err := d.authorize(doc, opts, true); err != nil {
		return err
	}
	doc.Service = append(doc.Service, svc)
	return nil
}

func (d *Driver) RemoveService(_ context.Context, did, fragment string, opts vdr.MutationOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.cache[did]
	if !ok {
		return errs.New(errs.ChannelNotFound, "unknown did:key document: "+did)
	}
	if err := d.authorize(doc, opts, true); err != nil {
		return err
	}
	svcID := did + "#" + fragment
	kept := doc.Service[:0]
	for _, s := range doc.Service {
		if s.ID != svcID {
			kept = append(kept, s)
		}
	}
	doc.Service = kept
	return nil
}

func (d *Driver) UpdateRelationships(_ context.Context, did, fragment string, add, remove []model.Relationship, opts vdr.MutationOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.cache[did]
	if !ok {
		return errs.New(errs.ChannelNotFound, "unknown did:key document: "+did)
	}
	if err := d.authorize(doc, opts, false); err != nil {
		return err
	}
	vmID := did + "#" + fragment
	for _, rel := range remove {
		ids := doc.RelationshipIDs(rel)
		filtered := ids[:0]
		for _, id := range ids {
			if id != vmID {
				filtered = append(filtered, id)
			}
		}
		doc.SetRelationshipIDs(rel, filtered)
	}
	for _, rel := range add {
		ids := doc.RelationshipIDs(rel)
		found := false
		for _, id := range ids {
			if id == vmID {
				found = true
				break
			}
		}
		if !found {
			doc.SetRelationshipIDs(rel, append(ids, vmID))
		}
	}
	return nil
}

func cloneDoc(doc *model.Document) *model.Document {
	clone := *doc
	clone.Controller = append([]string(nil), doc.Controller...)
	clone.VerificationMethod = append([]model.VerificationMethod(nil), doc.VerificationMethod...)
	clone.Authentication = append([]string(nil), doc.Authentication...)
	clone.AssertionMethod = append([]string(nil), doc.AssertionMethod...)
	clone.CapabilityInvocation = append([]string(nil), doc.CapabilityInvocation...)
	clone.CapabilityDelegation = append([]string(nil), doc.CapabilityDelegation...)
	clone.KeyAgreement = append([]string(nil), doc.KeyAgreement...)
	clone.Service = append([]model.Service(nil), doc.Service...)
	return &clone
}

var _ vdr.Driver = (*Driver)(nil)
