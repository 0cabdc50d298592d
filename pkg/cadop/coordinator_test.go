package cadop

import (
	"context"
	"testing"

	"github.com/nuwa-protocol/nuwa-go/pkg/chain"
	"github.com/nuwa-protocol/nuwa-go/pkg/chain/chaintest"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
	"github.com/nuwa-protocol/nuwa-go/pkg/vdr"
	"github.com/nuwa-protocol/nuwa-go/pkg/vdr/keydriver"
	"github.com/nuwa-protocol/nuwa-go/pkg/vdr/roochdriver"
)

const coordinatorTestDIDCreatedEvent = "0x3::did::DIDCreatedEvent"

func newTestCoordinator(serviceDID string, custodianSigner chain.Signer) (*Coordinator, *keydriver.Driver) {
	kd := keydriver.New()
	registry := vdr.NewRegistry(kd)
	return New(registry, serviceDID, custodianSigner), kd
}

func TestCreateDIDAndAddValidService(t *testing.T) {
	signer := &chaintest.Signer{Address: "z6MkTestKey"}
	c, _ := newTestCoordinator("did:key:z6MkTestKey", signer)
	ctx := context.Background()

	result, err := c.CreateDID(ctx, "key", vdr.CreateRequest{PublicKeyMultibase: "z6MkTestKey"}, vdr.MutationOptions{})
	if err != nil {
		t.Fatalf("create did: %v", err)
	}

	svc := model.Service{
		ID:   result.DID + "#custodian",
		Type: string(CustodianService),
		Properties: map[string]string{
			"custodianPublicKeyMultibase": "zCustodianKey",
			"custodianServiceVMType":      "Ed25519VerificationKey2020",
		},
	}
	if err := c.AddService(ctx, result.DID, svc, vdr.MutationOptions{Signer: signer}); err != nil {
		t.Fatalf("add service: %v", err)
	}

	doc, err := c.Resolve(ctx, result.DID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(doc.Service) != 1 {
		t.Fatalf("expected 1 service, got %d", len(doc.Service))
	}

	if err := c.RemoveService(ctx, result.DID, "custodian", vdr.MutationOptions{Signer: signer}); err != nil {
		t.Fatalf("remove service: %v", err)
	}
	doc, _ = c.Resolve(ctx, result.DID)
	if len(doc.Service) != 0 {
		t.Fatal("expected service to be removed")
	}
}

func TestAddServiceRejectsInvalidCatalogEntryBeforeMutating(t *testing.T) {
	signer := &chaintest.Signer{Address: "z6MkTestKey2"}
	c, _ := newTestCoordinator("did:key:z6MkTestKey2", signer)
	ctx := context.Background()

	result, err := c.CreateDID(ctx, "key", vdr.CreateRequest{PublicKeyMultibase: "z6MkTestKey2"}, vdr.MutationOptions{})
	if err != nil {
		t.Fatalf("create did: %v", err)
	}

	badSvc := model.Service{ID: result.DID + "#bad", Type: string(CustodianService), Properties: map[string]string{}}
	if err := c.AddService(ctx, result.DID, badSvc, vdr.MutationOptions{Signer: signer}); err == nil {
		t.Fatal("expected invalid service to be rejected before calling the registry")
	}

	doc, _ := c.Resolve(ctx, result.DID)
	if len(doc.Service) != 0 {
		t.Fatal("expected rejected service to never have been attached")
	}
}

// TestCreateDIDViaCADOPReadsCustodianKeyFromOwnDocument exercises the CADOP
// onboarding path end to end: the coordinator's own service document
// carries a CustodianService entry, and CreateDIDViaCADOP must read its
// custodianPublicKeyMultibase/custodianServiceVMType off that document
// rather than accept them from the caller.
func TestCreateDIDViaCADOPReadsCustodianKeyFromOwnDocument(t *testing.T) {
	serviceDID := "did:key:z6MkCustodianSelf"
	custodianSigner := &chaintest.Signer{Address: "z6MkCustodianSelf"}

	kd := keydriver.New()
	fake := &chaintest.Fake{
		SendTxResult: chain.TxResult{
			Status: chain.Executed,
			Events: []chain.Event{{
				Type:    coordinatorTestDIDCreatedEvent,
				Payload: []byte("rooch\n0xcustodian1\n0x2\n0xcust\ncreate_did_object_via_cadop_with_did_key"),
			}},
		},
	}
	rd := roochdriver.New(fake, nil)
	registry := vdr.NewRegistry(kd, rd)
	c := New(registry, serviceDID, custodianSigner)
	ctx := context.Background()

	if _, err := kd.Create(ctx, vdr.CreateRequest{PublicKeyMultibase: "z6MkCustodianSelf"}, vdr.MutationOptions{}); err != nil {
		t.Fatalf("create coordinator's own did: %v", err)
	}
	svc := model.Service{
		ID:   serviceDID + "#custodian",
		Type: string(CustodianService),
		Properties: map[string]string{
			"custodianPublicKeyMultibase": "zCustodianPubKey",
			"custodianServiceVMType":      "Ed25519VerificationKey2020",
		},
	}
	if err := kd.AddService(ctx, serviceDID, svc, vdr.MutationOptions{Signer: custodianSigner}); err != nil {
		t.Fatalf("attach custodian service: %v", err)
	}

	result, err := c.CreateDIDViaCADOP(ctx, "rooch", "did:key:zUser")
	if err != nil {
		t.Fatalf("create via cadop: %v", err)
	}
	if !result.Success || result.DID != "did:rooch:0xcustodian1" {
		t.Fatalf("unexpected cadop create result: %+v", result)
	}
}

func TestCreateDIDViaCADOPFailsWithoutCustodianServiceEntry(t *testing.T) {
	serviceDID := "did:key:z6MkNoCustodianEntry"
	kd := keydriver.New()
	registry := vdr.NewRegistry(kd)
	c := New(registry, serviceDID, &chaintest.Signer{Address: "z6MkNoCustodianEntry"})
	ctx := context.Background()

	if _, err := kd.Create(ctx, vdr.CreateRequest{PublicKeyMultibase: "z6MkNoCustodianEntry"}, vdr.MutationOptions{}); err != nil {
		t.Fatalf("create coordinator's own did: %v", err)
	}

	if _, err := c.CreateDIDViaCADOP(ctx, "key", "did:key:zUser"); err == nil {
		t.Fatal("expected CADOP creation to fail when the coordinator's own document has no CustodianService entry")
	}
}
