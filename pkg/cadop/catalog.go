// Package cadop implements the CADOP service catalog and onboarding
// coordinator (spec §4.6): a closed set of service types a custodian may
// register on a user's DID document, and the two-step onboarding flow that
// creates a DID and wires a custodian service onto it.
package cadop

import (
	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// ServiceType names one of the three catalog entries CADOP recognizes.
type ServiceType string

const (
	CustodianService     ServiceType = "CustodianService"
	IdentityProvider     ServiceType = "IdentityProviderService"
	Web2ProofService     ServiceType = "Web2ProofService"
)

// PropertySpec describes one property a catalog entry requires or allows.
type PropertySpec struct {
	Name     string
	Required bool
	Validate func(value string) error
}

// Entry is one catalog-registered service type: its required/optional
// properties and their validators.
type Entry struct {
	Type       ServiceType
	Properties []PropertySpec
}

func nonEmpty(value string) error {
	if value == "" {
		return errs.New(errs.BillingConfigError, "property value must not be empty")
	}
	return nil
}

// catalog is the closed set of service types CADOP recognizes (spec §4.6).
// Adding a fourth type is a protocol change, not a runtime configuration
// option, so this is unexported and fixed.
var catalog = map[ServiceType]Entry{
	CustodianService: {
		Type: CustodianService,
		Properties: []PropertySpec{
			{Name: "custodianPublicKeyMultibase", Required: true, Validate: nonEmpty},
			{Name: "custodianServiceVMType", Required: true, Validate: nonEmpty},
		},
	},
	IdentityProvider: {
		Type: IdentityProvider,
		Properties: []PropertySpec{
			{Name: "issuerDID", Required: true, Validate: nonEmpty},
			{Name: "supportedCredentialTypes", Required: false, Validate: nonEmpty},
		},
	},
	Web2ProofService: {
		Type: Web2ProofService,
		Properties: []PropertySpec{
			{Name: "proofEndpoint", Required: true, Validate: nonEmpty},
			{Name: "provider", Required: true, Validate: nonEmpty},
		},
	},
}

// Lookup returns the catalog entry for a service type, or false if the
// type is not recognized.
func Lookup(t ServiceType) (Entry, bool) {
	e, ok := catalog[t]
	return e, ok
}

// Validate checks svc.Properties against the catalog entry for svc.Type:
// every required property must be present and every present property
// (required or optional) must pass its validator. An unrecognized type or
// an unrecognized property name is rejected.
func Validate(svc model.Service) error {
	entry, ok := Lookup(ServiceType(svc.Type))
	if !ok {
		return errs.New(errs.BillingConfigError, "unrecognized CADOP service type: "+svc.Type)
	}

	known := make(map[string]PropertySpec, len(entry.Properties))
	for _, p := range entry.Properties {
		known[p.Name] = p
	}

	for name, value := range svc.Properties {
		spec, ok := known[name]
		if !ok {
			return errs.New(errs.BillingConfigError, "unrecognized property for "+svc.Type+": "+name)
		}
		if err := spec.Validate(value); err != nil {
			return errs.Wrap(errs.BillingConfigError, "property "+name, err)
		}
	}

	for _, spec := range entry.Properties {
		if !spec.Required {
			continue
		}
		if _, present := svc.Properties[spec.Name]; !present {
			return errs.New(errs.BillingConfigError, "missing required property for "+svc.Type+": "+spec.Name)
		}
	}

	return nil
}
