package placement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// ShardKind distinguishes primary from replica shards.
type ShardKind int32

const (
	KindUnknown ShardKind = iota
	KindPrimary
	KindReplica
)

// PlacementRequest asks which node owns a shard of the given kind for
// the named index.
type PlacementRequest struct {
	Index string    `json:"index"`
	Kind  ShardKind `json:"kind"`
}

// PlacementReply names the owning node.
type PlacementReply struct {
	Node string    `json:"node"`
	Kind ShardKind `json:"kind"`
}

// SelectFunc picks one primary out of a record's primaries list. The
// selection policy is pluggable; the default takes the last entry.
type SelectFunc func(primaries []Shard) (Shard, bool)

// SelectLast returns the last primary of the record.
func SelectLast(primaries []Shard) (Shard, bool) {
	if len(primaries) == 0 {
		return Shard{}, false
	}
	return primaries[len(primaries)-1], true
}

// Service is a stateless read-through lookup over the KV store.
// Placement decisions are made elsewhere; this only reads them.
type Service struct {
	kv       KV
	selectFn SelectFunc
}

// NewService creates the placement service. A nil selectFn means
// SelectLast.
func NewService(kv KV, selectFn SelectFunc) *Service {
	if selectFn == nil {
		selectFn = SelectLast
	}
	return &Service{kv: kv, selectFn: selectFn}
}

// GetPlacement resolves the shard-owner node for (index, kind). The same
// inputs against the same KV snapshot always yield the same node.
func (s *Service) GetPlacement(ctx context.Context, req *PlacementRequest) (*PlacementReply, error) {
	if req.Index == "" {
		return nil, status.Error(codes.InvalidArgument, "index is required")
	}

	data, err := s.kv.Get(ctx, placementPrefix+req.Index)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, status.Errorf(codes.NotFound, "No such index: %s", req.Index)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "placement store unavailable: %v", err)
	}

	var record NodeData
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, status.Errorf(codes.Internal, "malformed placement record for %s: %v", req.Index, err)
	}
	shard, ok := s.selectFn(record.Primaries)
	if !ok {
		return nil, status.Errorf(codes.Internal, "placement record for %s has no primaries", req.Index)
	}
	return &PlacementReply{Node: shard.Node, Kind: req.Kind}, nil
}

// The service speaks JSON on the wire; there is no generated-code
// pipeline in this repo, so the descriptor is registered by hand.

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const getPlacementMethod = "/quarry.Placement/GetPlacement"

func getPlacementHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PlacementRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).GetPlacement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getPlacementMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Service).GetPlacement(ctx, req.(*PlacementRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "quarry.Placement",
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPlacement", Handler: getPlacementHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// NewGRPCServer registers the service on a JSON-codec gRPC server.
func NewGRPCServer(s *Service) *grpc.Server {
	gs := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	gs.RegisterService(&serviceDesc, s)
	return gs
}

// Serve starts the placement gRPC server on addr in the background.
func Serve(s *Service, addr string) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	gs := NewGRPCServer(s)
	log.Printf("Starting placement server on %s", addr)
	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Printf("Placement server failed: %v", err)
		}
	}()
	return gs, nil
}
