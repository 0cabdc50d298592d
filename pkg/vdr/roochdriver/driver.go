// Package roochdriver implements the rooch VDR method driver (spec §4.5):
// chain-allocated DID addresses, entry-function mutations, and
// DIDCreatedEvent parsing on create. The transaction-submit-then-parse
// flow generalizes the teacher's event-wait-with-timeout pattern
// (pkg/blockchain/mpe.go EnsurePaymentChannel/WaitForTransaction) from a
// MultiPartyEscrow channel-open wait into a DID-creation wait.
package roochdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nuwa-protocol/nuwa-go/pkg/chain"
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/vdr"
)

const methodName = "rooch"

// Chain entry points used by this driver (spec §6).
const (
	fnExistsDID              = "0x3::did::exists_did_for_address"
	fnGetDIDDocument          = "0x3::did::get_did_document"
	fnCreateDIDForSelf        = "0x3::did::create_did_object_for_self_entry"
	fnCreateDIDViaCADOP       = "0x3::did::create_did_object_via_cadop_with_did_key_entry"
	fnAddVerificationMethod   = "0x3::did::add_verification_method_entry"
	fnRemoveVerificationMethod = "0x3::did::remove_verification_method_entry"
	fnAddService              = "0x3::did::add_service_entry"
	fnAddServiceWithProps     = "0x3::did::add_service_with_properties_entry"
	fnRemoveService           = "0x3::did::remove_service_entry"
	fnAddToRelationship       = "0x3::did::add_to_verification_relationship_entry"
	fnRemoveFromRelationship  = "0x3::did::remove_from_verification_relationship_entry"

	eventDIDCreated = "0x3::did::DIDCreatedEvent"
)

// Driver is the rooch method driver. It is otherwise stateless; lastCreated
// is cached per-instance purely for convenience (spec §4.5), never
// consulted for correctness.
type Driver struct {
	client        chain.Client
	defaultSigner chain.Signer

	mu          sync.Mutex
	lastCreated string
}

// New constructs a rooch driver bound to client, with defaultSigner used
// for any mutation whose MutationOptions.Signer is nil.
func New(client chain.Client, defaultSigner chain.Signer) *Driver {
	return &Driver{client: client, defaultSigner: defaultSigner}
}

func (d *Driver) Method() string { return methodName }

func (d *Driver) signerFor(opts vdr.MutationOptions) (chain.Signer, error) {
	if opts.Signer != nil {
		return opts.Signer, nil
	}
	if d.defaultSigner != nil {
		return d.defaultSigner, nil
	}
	return nil, errs.New(errs.NoSigner, "rooch driver: no signer supplied or configured")
}

func (d *Driver) Exists(ctx context.Context, did string) (bool, error) {
	addr, err := addressOf(did)
	if err != nil {
		return false, err
	}
	res, err := d.client.CallView(ctx, fnExistsDID, [][]byte{[]byte(addr)})
	if err != nil {
		return false, errs.Wrap(errs.ChainUnreachable, "exists_did_for_address", err)
	}
	if res.Status != chain.Executed {
		return false, errs.New(errs.TxRejected, "exists_did_for_address view failed")
	}
	return len(res.ReturnValues) > 0 && len(res.ReturnValues[0]) > 0 && res.ReturnValues[0][0] != 0, nil
}

func (d *Driver) Resolve(ctx context.Context, did string) (*model.Document, error) {
	addr, err := addressOf(did)
	if err != nil {
		return nil, err
	}
	res, err := d.client.CallView(ctx, fnGetDIDDocument, [][]byte{[]byte(addr)})
	if err != nil {
		return nil, errs.Wrap(errs.ChainUnreachable, "get_did_document", err)
	}
	if res.Status != chain.Executed {
		return nil, errs.New(errs.ChannelNotFound, "rooch: no DID document for "+did)
	}
	return decodeDocument(did, res.ReturnValues)
}

// Create submits a create-did-for-self transaction carrying the primary
// verification method's multibase public key.
func (d *Driver) Create(ctx context.Context, req vdr.CreateRequest, opts vdr.MutationOptions) (model.CreationResult, error) {
	signer, err := d.signerFor(opts)
	if err != nil {
		return model.CreationResult{}, err
	}
	if req.PublicKeyMultibase == "" {
		return model.CreationResult{}, errs.New(errs.MultibaseInvalid, "rooch create requires PublicKeyMultibase")
	}

	tx := chain.Tx{Target: fnCreateDIDForSelf, Args: [][]byte{[]byte(req.PublicKeyMultibase)}}
	result, err := d.client.SendTx(ctx, tx, signer)
	if err != nil {
		return model.CreationResult{}, errs.Wrap(errs.TxRejected, "create_did_object_for_self_entry", err)
	}
	if result.Status != chain.Executed {
		return model.CreationResult{}, errs.New(errs.TxRejected, "create_did_object_for_self_entry execution failed")
	}

	return d.resultFromCreationEvents(result.Events)
}

// CreateViaCADOP submits a create-via-cadop transaction carrying
// (userDidKey, custodianServicePublicKey, custodianServiceVmType).
func (d *Driver) CreateViaCADOP(ctx context.Context, req vdr.CADOPCreateRequest, opts vdr.MutationOptions) (model.CreationResult, error) {
	signer, err := d.signerFor(opts)
	if err != nil {
		return model.CreationResult{}, err
	}

	tx := chain.Tx{Target: fnCreateDIDViaCADOP, Args: [][]byte{
		[]byte(req.UserDIDKey),
		[]byte(req.CustodianPublicKeyMultibase),
		[]byte(req.CustodianServiceVMType),
	}}
	result, err := d.client.SendTx(ctx, tx, signer)
	if err != nil {
		return model.CreationResult{}, errs.Wrap(errs.TxRejected, "create_did_object_via_cadop_with_did_key_entry", err)
	}
	if result.Status != chain.Executed {
		return model.CreationResult{}, errs.New(errs.TxRejected, "create_did_object_via_cadop_with_did_key_entry execution failed")
	}

	return d.resultFromCreationEvents(result.Events)
}

// resultFromCreationEvents parses the DIDCreatedEvent out of a
// transaction's events. On structured-parse failure it falls back to a
// string-pattern extractor, and if that also fails, returns success with a
// synthetic placeholder DID and an EVENT_UNPARSEABLE warning rather than
// silently losing the created DID (spec §4.5 failure policy).
func (d *Driver) resultFromCreationEvents(events []chain.Event) (model.CreationResult, error) {
	for _, ev := range events {
		if ev.Type != eventDIDCreated {
			continue
		}
		if did, ok := parseDIDCreatedEventStructured(ev.Payload); ok {
			d.rememberLastCreated(did)
			return model.CreationResult{Success: true, DID: did}, nil
		}
		if did, ok := parseDIDCreatedEventFallback(ev.Payload); ok {
			zap.L().Warn("DIDCreatedEvent required string-fallback parsing", zap.String("did", did))
			d.rememberLastCreated(did)
			return model.CreationResult{Success: true, DID: did}, nil
		}
		zap.L().Warn("DIDCreatedEvent unparseable, returning placeholder DID")
		placeholder := "did:rooch:unparseable"
		d.rememberLastCreated(placeholder)
		return model.CreationResult{Success: true, DID: placeholder, Warning: string(errs.EventUnparseable)}, nil
	}
	return model.CreationResult{}, errs.New(errs.EventUnparseable, "no DIDCreatedEvent in transaction result")
}

func (d *Driver) rememberLastCreated(did string) {
	d.mu.Lock()
	d.lastCreated = did
	d.mu.Unlock()
}

// LastCreated returns the most recently created DID on this driver
// instance, for convenience only — never a correctness mechanism.
func (d *Driver) LastCreated() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCreated
}

// precheck resolves the current document and rejects the mutation unless
// the signer's address matches a controller or a verification method
// carrying the required relationship. This is a client-side pre-check
// only; authoritative authorization lives on-chain (spec §4.5).
func (d *Driver) precheck(ctx context.Context, did string, signer chain.Signer, rel model.Relationship) (*model.Document, error) {
	doc, err := d.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	addr := signer.AddressOf()
	for _, c := range doc.Controller {
		if controllerAddress(c) == addr {
			return doc, nil
		}
	}
	for _, vmID := range doc.RelationshipIDs(rel) {
		vm, ok := doc.FindVerificationMethod(vmID)
		if ok && controllerAddress(vm.Controller) == addr {
			return doc, nil
		}
	}
	return nil, errs.New(errs.PermissionDenied, "signer does not control a required relationship on "+did)
}

func (d *Driver) AddVerificationMethod(ctx context.Context, did string, vm model.VerificationMethod, relationships []model.Relationship, opts vdr.MutationOptions) error {
	signer, err := d.signerFor(opts)
	if err != nil {
		return err
	}
	if _, err := d.precheck(ctx, did, signer, model.CapabilityDelegation); err != nil {
		return err
	}

	relBytes := make([]byte, len(relationships))
	for i, r := range relationships {
		relBytes[i] = byte(r)
	}
	tx := chain.Tx{Target: fnAddVerificationMethod, Args: [][]byte{
		[]byte(vm.Fragment()), []byte(vm.Type), []byte(vm.PublicKeyMultibase), relBytes,
	}}
	return d.sendMutation(ctx, tx, signer)
}

func (d *Driver) RemoveVerificationMethod(ctx context.Context, did, fragment string, opts vdr.MutationOptions) error {
	signer, err := d.signerFor(opts)
	if err != nil {
		return err
	}
	if _, err := d.precheck(ctx, did, signer, model.CapabilityDelegation); err != nil {
		return err
	}
	tx := chain.Tx{Target: fnRemoveVerificationMethod, Args: [][]byte{[]byte(fragment)}}
	return d.sendMutation(ctx, tx, signer)
}

func (d *Driver) AddService(ctx context.Context, did string, svc model.Service, opts vdr.MutationOptions) error {
	signer, err := d.signerFor(opts)
	if err != nil {
		return err
	}
	if _, err := d.precheck(ctx, did, signer, model.CapabilityInvocation); err != nil {
		return err
	}

	if len(svc.Properties) == 0 {
		tx := chain.Tx{Target: fnAddService, Args: [][]byte{[]byte(svc.ID), []byte(svc.Type), []byte(svc.ServiceEndpoint)}}
		return d.sendMutation(ctx, tx, signer)
	}

	keys := make([]byte, 0, len(svc.Properties))
	values := make([]byte, 0, len(svc.Properties))
	for k, v := range svc.Properties {
		keys = append(keys, []byte(k+"\x00")...)
		values = append(values, []byte(v+"\x00")...)
	}
	tx := chain.Tx{Target: fnAddServiceWithProps, Args: [][]byte{
		[]byte(svc.ID), []byte(svc.Type), []byte(svc.ServiceEndpoint), keys, values,
	}}
	return d.sendMutation(ctx, tx, signer)
}

func (d *Driver) RemoveService(ctx context.Context, did, fragment string, opts vdr.MutationOptions) error {
	signer, err := d.signerFor(opts)
	if err != nil {
		return err
	}
	if _, err := d.precheck(ctx, did, signer, model.CapabilityInvocation); err != nil {
		return err
	}
	tx := chain.Tx{Target: fnRemoveService, Args: [][]byte{[]byte(fragment)}}
	return d.sendMutation(ctx, tx, signer)
}

func (d *Driver) UpdateRelationships(ctx context.Context, did, fragment string, add, remove []model.Relationship, opts vdr.MutationOptions) error {
	signer, err := d.signerFor(opts)
	if err != nil {
		return err
	}
	if _, err := d.precheck(ctx, did, signer, model.CapabilityDelegation); err != nil {
		return err
	}
	for _, r := range add {
		tx := chain.Tx{Target: fnAddToRelationship, Args: [][]byte{[]byte(fragment), {byte(r)}}}
		if err := d.sendMutation(ctx, tx, signer); err != nil {
			return err
		}
	}
	for _, r := range remove {
		tx := chain.Tx{Target: fnRemoveFromRelationship, Args: [][]byte{[]byte(fragment), {byte(r)}}}
		if err := d.sendMutation(ctx, tx, signer); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) sendMutation(ctx context.Context, tx chain.Tx, signer chain.Signer) error {
	result, err := d.client.SendTx(ctx, tx, signer)
	if err != nil {
		return errs.Wrap(errs.TxRejected, tx.Target, err)
	}
	if result.Status != chain.Executed {
		return errs.New(errs.TxRejected, tx.Target+" execution failed")
	}
	return nil
}

// addressOf extracts the hex/bech32 address from a "did:rooch:<address>" string.
func addressOf(did string) (string, error) {
	const prefix = "did:rooch:"
	if !strings.HasPrefix(did, prefix) {
		return "", errs.New(errs.MethodUnsupported, "not a did:rooch identifier: "+did)
	}
	return did[len(prefix):], nil
}

// controllerAddress strips the "did:rooch:" prefix from a controller or
// verification-method controller DID, so it can be compared against the
// raw address a chain.Signer reports via AddressOf.
func controllerAddress(did string) string {
	const prefix = "did:rooch:"
	if strings.HasPrefix(did, prefix) {
		return did[len(prefix):]
	}
	return did
}

// decodeDocument maps the chain's view-function return values into the
// document model of spec §3. The concrete wire layout of get_did_document's
// return is chain-internal; this decoder expects the view result to carry
// the address, controller address, and a flattened list of
// fragment/type/key triples, emitted as successive byte slices.
func decodeDocument(did string, values [][]byte) (*model.Document, error) {
	if len(values) < 2 {
		return nil, errs.New(errs.EventSchemaMismatch, "get_did_document: unexpected return shape")
	}
	controllerAddr := string(values[1])
	doc := &model.Document{
		ID:         did,
		Controller: []string{"did:rooch:" + controllerAddr},
	}
	for i := 2; i+2 < len(values); i += 3 {
		fragment := string(values[i])
		keyType := model.KeyType(values[i+1])
		publicKey := string(values[i+2])
		vmID := did + "#" + fragment
		doc.VerificationMethod = append(doc.VerificationMethod, model.VerificationMethod{
			ID: vmID, Type: keyType, Controller: doc.Controller[0], PublicKeyMultibase: publicKey,
		})
		// The primary (first) verification method is present in every
		// relationship by on-chain convention, matching the did:key driver.
		if i == 2 {
			for _, rel := range []model.Relationship{model.Authentication, model.AssertionMethod, model.CapabilityInvocation, model.CapabilityDelegation, model.KeyAgreement} {
				doc.SetRelationshipIDs(rel, append(doc.RelationshipIDs(rel), vmID))
			}
		}
	}
	return doc, nil
}

// parseDIDCreatedEventStructured decodes the DIDCreatedEvent payload under
// its canonical schema: newline-separated
// method\nidentifier\nobjectId\ncreatorAddress\ncreationMethod fields,
// optionally followed by controller method/identifier pairs.
func parseDIDCreatedEventStructured(payload []byte) (string, bool) {
	fields := strings.Split(string(payload), "\n")
	if len(fields) < 2 {
		return "", false
	}
	method, identifier := fields[0], fields[1]
	if method == "" || identifier == "" {
		return "", false
	}
	return fmt.Sprintf("did:%s:%s", method, identifier), true
}

// parseDIDCreatedEventFallback extracts a "did:<method>:<id>" substring
// from an arbitrarily formatted payload, used when structured parsing
// fails (spec §4.5 failure policy).
func parseDIDCreatedEventFallback(payload []byte) (string, bool) {
	s := string(payload)
	idx := strings.Index(s, "did:rooch:")
	if idx < 0 {
		return "", false
	}
	rest := s[idx:]
	end := len(rest)
	for i, r := range rest {
		if r == '"' || r == ' ' || r == ',' || r == '\n' || r == '}' {
			end = i
			break
		}
	}
	did := rest[:end]
	if did == "did:rooch:" {
		return "", false
	}
	return did, true
}

var _ vdr.Driver = (*Driver)(nil)
