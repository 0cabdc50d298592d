// Package schema compiles operation parameter schemas from .proto sources
// at runtime and validates/encodes request parameters against them. It
// adapts the teacher's dynamic-proto compilation path
// (pkg/grpc/proto.go getProtoDescriptors) from daemon RPC stub discovery
// to Service Kit operation-parameter validation: no generated Go stubs are
// involved anywhere in the path.
package schema

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
)

// Compile compiles protoFiles (filename → source) into linker.Files,
// enabling the standard well-known-type imports.
func Compile(protoFiles map[string]string) (linker.Files, error) {
	accessor := protocompile.SourceAccessorFromMap(protoFiles)
	resolver := protocompile.WithStandardImports(&protocompile.SourceResolver{Accessor: accessor})
	compiler := protocompile.Compiler{
		Resolver:       resolver,
		SourceInfoMode: protocompile.SourceInfoStandard,
	}
	fds, err := compiler.Compile(context.Background(), slices.Collect(maps.Keys(protoFiles))...)
	if err != nil || fds == nil {
		zap.L().Error("failed to compile operation parameter schema", zap.Error(err))
		return nil, errs.Wrap(errs.BillingConfigError, "compile operation parameter schema", err)
	}
	return fds, nil
}

// FindMessage locates a top-level message by its simple (unqualified) name
// across every compiled file, mirroring the teacher's FindMethod search
// shape (pkg/grpc/proto.go FindMethod) but over messages instead of
// service methods.
func FindMessage(files linker.Files, messageName string) (protoreflect.MessageDescriptor, error) {
	for _, file := range files {
		msg := file.Messages().ByName(protoreflect.Name(messageName))
		if msg != nil {
			return msg, nil
		}
	}
	return nil, errs.New(errs.BillingConfigError, "message "+messageName+" not found in compiled operation schema")
}

// Schema pairs a compiled message descriptor with the operation name it
// validates parameters for.
type Schema struct {
	Operation  string
	Descriptor protoreflect.MessageDescriptor
}

// NewSchema compiles protoFiles and locates messageName, producing a
// Schema ready for ValidateAndDecode.
func NewSchema(operation string, protoFiles map[string]string, messageName string) (Schema, error) {
	files, err := Compile(protoFiles)
	if err != nil {
		return Schema{}, err
	}
	desc, err := FindMessage(files, messageName)
	if err != nil {
		return Schema{}, err
	}
	return Schema{Operation: operation, Descriptor: desc}, nil
}

// ValidateAndDecode parses a JSON parameter payload against s's descriptor
// using protojson over a dynamicpb message, so no generated Go stub is
// needed for any operation's parameter shape.
func (s Schema) ValidateAndDecode(jsonParams []byte) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(s.Descriptor)
	if err := protojson.Unmarshal(jsonParams, msg); err != nil {
		return nil, errs.Wrap(errs.BillingConfigError, fmt.Sprintf("decode parameters for %s", s.Operation), err)
	}
	return msg, nil
}

// Encode marshals a dynamicpb message back to JSON, used to echo validated
// parameters in logs or built-in introspection operations.
func (s Schema) Encode(msg *dynamicpb.Message) ([]byte, error) {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return nil, errs.Wrap(errs.BillingConfigError, "encode parameters for "+s.Operation, err)
	}
	return b, nil
}
