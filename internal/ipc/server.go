package ipc

import (
	"context"
	"math/big"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sorag20/Unirep/internal/ledger"
	izk "github.com/sorag20/Unirep/internal/zkproof"
)

// LedgerProvider resolves the ledger of an attester.
type LedgerProvider interface {
	Get(attesterID *big.Int) (*ledger.Ledger, error)
	Attesters() []*big.Int
}

// ServerParams configures a Server.
type ServerParams struct {
	SocketPath string
	Ledgers    LedgerProvider
	// Capability is advertised by GetCapability. Nil advertises no proof
	// support.
	Capability *izk.Capability
	Logger     *zap.Logger
}

// Server is the IPC gRPC server.
type Server struct {
	sockPath   string
	ledgers    LedgerProvider
	capability *izk.Capability
	log        *zap.Logger
	grpc       *grpc.Server
	listener   net.Listener
}

// NewServer listens on p.SocketPath, replacing a stale socket file.
func NewServer(p ServerParams) (*Server, error) {
	os.Remove(p.SocketPath)

	listener, err := net.Listen("unix", p.SocketPath)
	if err != nil {
		return nil, err
	}

	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		sockPath:   p.SocketPath,
		ledgers:    p.Ledgers,
		capability: p.Capability,
		log:        log.Named("ipc"),
		listener:   listener,
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.logErrors))
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Start begins serving requests.
func (s *Server) Start() error {
	return s.grpc.Serve(s.listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	os.Remove(s.sockPath)
}

func (s *Server) logErrors(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Debug("query failed", zap.String("method", info.FullMethod), zap.Error(err))
	}
	return resp, toStatus(err)
}

func (s *Server) ledger(in *structpb.Struct) (*ledger.Ledger, TreeQuery, error) {
	q, err := parseTreeQuery(in)
	if err != nil {
		return nil, q, err
	}
	l, err := s.ledgers.Get(q.AttesterID)
	return l, q, err
}

// GetRoot implements the gRPC method.
func (s *Server) GetRoot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	l, q, err := s.ledger(in)
	if err != nil {
		return nil, err
	}
	root, err := l.Root(q.Tree, q.Epoch)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"root": root.String()})
}

// GetNumLeaves implements the gRPC method.
func (s *Server) GetNumLeaves(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	l, q, err := s.ledger(in)
	if err != nil {
		return nil, err
	}
	n, err := l.NumLeaves(q.Tree, q.Epoch)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"num_leaves": n})
}

// ProveInclusion implements the gRPC method.
func (s *Server) ProveInclusion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	l, q, err := s.ledger(in)
	if err != nil {
		return nil, err
	}
	index, err := uintField(in, "index")
	if err != nil {
		return nil, err
	}
	proof, err := l.ProveInclusion(q.Tree, q.Epoch, index)
	if err != nil {
		return nil, err
	}

	siblings := make([]any, len(proof.Siblings))
	for i, v := range proof.Siblings {
		siblings[i] = v.String()
	}
	indices := make([]any, len(proof.PathIndices))
	for i, v := range proof.PathIndices {
		indices[i] = uint64(v)
	}
	return structpb.NewStruct(map[string]any{
		"root":         proof.Root.String(),
		"leaf":         proof.Leaf.String(),
		"index":        proof.Index,
		"siblings":     siblings,
		"path_indices": indices,
	})
}

// GetCapability implements the gRPC method.
func (s *Server) GetCapability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.capability == nil {
		return structpb.NewStruct(map[string]any{"supported": false})
	}
	return s.capability.ToStruct()
}

// Status implements the gRPC method. It lists the attesters and their
// current epochs.
func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	attesters := make(map[string]any)
	for _, id := range s.ledgers.Attesters() {
		l, err := s.ledgers.Get(id)
		if err != nil {
			return nil, err
		}
		attesters[id.String()] = l.CurrentEpoch()
	}
	return structpb.NewStruct(map[string]any{"attesters": attesters})
}
