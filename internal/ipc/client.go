package ipc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	izk "github.com/sorag20/Unirep/internal/zkproof"
	"github.com/sorag20/Unirep/pkg/merkle"
)

// defaultRPCTimeout is the default timeout for RPC calls.
const defaultRPCTimeout = 5 * time.Second

// ErrEmptySocketPath is returned when an empty socket path is provided.
var ErrEmptySocketPath = errors.New("socket path cannot be empty")

// Client queries a synchronizer over its unix socket.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient creates a client for the socket at sockPath. The connection is
// established lazily on the first call.
func NewClient(sockPath string) (*Client, error) {
	if sockPath == "" {
		return nil, ErrEmptySocketPath
	}

	conn, err := grpc.NewClient(
		"unix://"+sockPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IPC socket: %w", err)
	}
	return &Client{conn: conn, timeout: defaultRPCTimeout}, nil
}

// SetTimeout changes the per-call timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, fromStatus(method, err)
	}
	return out, nil
}

// GetRoot returns the root of the selected tree.
func (c *Client) GetRoot(ctx context.Context, q TreeQuery) (*big.Int, error) {
	in, err := q.toStruct(nil)
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, methodGetRoot, in)
	if err != nil {
		return nil, err
	}
	return bigField(out, "root")
}

// GetNumLeaves returns the number of leaves of the selected tree.
func (c *Client) GetNumLeaves(ctx context.Context, q TreeQuery) (uint64, error) {
	in, err := q.toStruct(nil)
	if err != nil {
		return 0, err
	}
	out, err := c.invoke(ctx, methodGetNumLeaves, in)
	if err != nil {
		return 0, err
	}
	return uintField(out, "num_leaves")
}

// ProveInclusion returns the inclusion proof of the leaf at index. The
// proof is checked before it is returned.
func (c *Client) ProveInclusion(ctx context.Context, q TreeQuery, index uint64) (*merkle.Proof, error) {
	in, err := q.toStruct(map[string]any{"index": index})
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, methodProveInclusion, in)
	if err != nil {
		return nil, err
	}

	p := &merkle.Proof{}
	if p.Root, err = bigField(out, "root"); err != nil {
		return nil, err
	}
	if p.Leaf, err = bigField(out, "leaf"); err != nil {
		return nil, err
	}
	if p.Index, err = uintField(out, "index"); err != nil {
		return nil, err
	}
	for _, v := range out.GetFields()["siblings"].GetListValue().GetValues() {
		x, ok := new(big.Int).SetString(v.GetStringValue(), 10)
		if !ok {
			return nil, fmt.Errorf("%w: bad sibling", ErrBadRequest)
		}
		p.Siblings = append(p.Siblings, x)
	}
	for _, v := range out.GetFields()["path_indices"].GetListValue().GetValues() {
		p.PathIndices = append(p.PathIndices, uint8(v.GetNumberValue()))
	}
	if !p.Verify() {
		return nil, fmt.Errorf("%s: proof does not verify", methodProveInclusion)
	}
	return p, nil
}

// GetCapability returns the proof capability advertised by the daemon.
func (c *Client) GetCapability(ctx context.Context) (*izk.Capability, error) {
	out, err := c.invoke(ctx, methodGetCapability, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	return izk.CapabilityFromStruct(out), nil
}

// AttesterStatus is one attester known to the daemon.
type AttesterStatus struct {
	AttesterID   *big.Int
	CurrentEpoch uint64
}

// Status lists the attesters with their current epochs, ordered by id.
func (c *Client) Status(ctx context.Context) ([]AttesterStatus, error) {
	out, err := c.invoke(ctx, methodStatus, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	var res []AttesterStatus
	for id, v := range out.GetFields()["attesters"].GetStructValue().GetFields() {
		x, ok := new(big.Int).SetString(id, 10)
		if !ok {
			return nil, fmt.Errorf("%w: bad attester id %q", ErrBadRequest, id)
		}
		res = append(res, AttesterStatus{AttesterID: x, CurrentEpoch: uint64(v.GetNumberValue())})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AttesterID.Cmp(res[j].AttesterID) < 0 })
	return res, nil
}
