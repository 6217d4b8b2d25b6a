// Package ipc serves read-only ledger queries over gRPC on a unix socket.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code. Field elements travel as decimal strings; epochs and
// indices as numbers, which stay exact below 2^53.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sorag20/Unirep/internal/ledger"
	"github.com/sorag20/Unirep/pkg/unirep"
)

const serviceName = "unirep.ipc.v1.LedgerQuery"

const (
	methodGetRoot        = "GetRoot"
	methodGetNumLeaves   = "GetNumLeaves"
	methodProveInclusion = "ProveInclusion"
	methodGetCapability  = "GetCapability"
	methodStatus         = "Status"
)

// ErrBadRequest is returned for a request with missing or invalid fields.
var ErrBadRequest = errors.New("ipc: bad request")

type queryServer interface {
	GetRoot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNumLeaves(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProveInclusion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCapability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(queryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(queryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(queryServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*queryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodGetRoot, queryServer.GetRoot),
		unary(methodGetNumLeaves, queryServer.GetNumLeaves),
		unary(methodProveInclusion, queryServer.ProveInclusion),
		unary(methodGetCapability, queryServer.GetCapability),
		unary(methodStatus, queryServer.Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "unirep/ipc",
}

// TreeQuery selects one tree of one attester. Epoch is ignored for the
// history tree.
type TreeQuery struct {
	AttesterID *big.Int
	Tree       ledger.TreeKind
	Epoch      uint64
}

func (q TreeQuery) toStruct(extra map[string]any) (*structpb.Struct, error) {
	m := map[string]any{
		"attester": q.AttesterID.String(),
		"tree":     q.Tree.String(),
		"epoch":    q.Epoch,
	}
	for k, v := range extra {
		m[k] = v
	}
	return structpb.NewStruct(m)
}

func parseTreeQuery(in *structpb.Struct) (TreeQuery, error) {
	var q TreeQuery
	attester, err := bigField(in, "attester")
	if err != nil {
		return q, err
	}
	tree, err := ledger.ParseTreeKind(in.GetFields()["tree"].GetStringValue())
	if err != nil {
		return q, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	epoch, err := uintField(in, "epoch")
	if err != nil {
		return q, err
	}
	return TreeQuery{AttesterID: attester, Tree: tree, Epoch: epoch}, nil
}

func bigField(in *structpb.Struct, name string) (*big.Int, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrBadRequest, name)
	}
	x, ok := new(big.Int).SetString(v.GetStringValue(), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal integer", ErrBadRequest, name)
	}
	return x, nil
}

func uintField(in *structpb.Struct, name string) (uint64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrBadRequest, name)
	}
	f := v.GetNumberValue()
	if f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("%w: %s is not an unsigned integer", ErrBadRequest, name)
	}
	return uint64(f), nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unirep.ErrNotFound), errors.Is(err, ledger.ErrAttesterNotSignedUp):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrBadRequest), errors.Is(err, unirep.ErrRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, unirep.ErrStaleEpoch):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus restores the sentinel a client can match with errors.Is.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s RPC failed: %w", method, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", method, unirep.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", method, ErrBadRequest, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %s", method, unirep.ErrStaleEpoch, st.Message())
	default:
		return fmt.Errorf("%s RPC failed: %w", method, err)
	}
}
