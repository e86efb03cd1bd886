package placement

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeKV serves canned records and failures.
type fakeKV struct {
	records map[string][]byte
	err     error
}

func (f *fakeKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func TestGetPlacement_PicksLastPrimary(t *testing.T) {
	kv := &fakeKV{records: map[string][]byte{
		placementPrefix + "books": []byte(`{"primaries":[{"shard_id":"s1","node":"node-a"},{"shard_id":"s2","node":"node-b"}]}`),
	}}
	service := NewService(kv, nil)

	reply, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if err != nil {
		t.Fatalf("GetPlacement failed: %v", err)
	}
	if reply.Node != "node-b" {
		t.Errorf("Expected last primary node-b, got %q", reply.Node)
	}
	if reply.Kind != KindPrimary {
		t.Errorf("Expected kind to echo the request, got %v", reply.Kind)
	}
}

func TestGetPlacement_Deterministic(t *testing.T) {
	kv := &fakeKV{records: map[string][]byte{
		placementPrefix + "books": []byte(`{"primaries":[{"shard_id":"s1","node":"node-a"},{"shard_id":"s2","node":"node-b"}]}`),
	}}
	service := NewService(kv, nil)

	first, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if err != nil {
		t.Fatalf("GetPlacement failed: %v", err)
	}
	second, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if err != nil {
		t.Fatalf("GetPlacement failed: %v", err)
	}
	if first.Node != second.Node {
		t.Errorf("Expected the same snapshot to yield the same node, got %q and %q", first.Node, second.Node)
	}
}

func TestGetPlacement_CustomSelection(t *testing.T) {
	kv := &fakeKV{records: map[string][]byte{
		placementPrefix + "books": []byte(`{"primaries":[{"shard_id":"s1","node":"node-a"},{"shard_id":"s2","node":"node-b"}]}`),
	}}
	selectFirst := func(primaries []Shard) (Shard, bool) {
		if len(primaries) == 0 {
			return Shard{}, false
		}
		return primaries[0], true
	}
	service := NewService(kv, selectFirst)

	reply, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if err != nil {
		t.Fatalf("GetPlacement failed: %v", err)
	}
	if reply.Node != "node-a" {
		t.Errorf("Expected node-a from the custom policy, got %q", reply.Node)
	}
}

func TestGetPlacement_NoSuchIndex(t *testing.T) {
	service := NewService(&fakeKV{records: map[string][]byte{}}, nil)
	_, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "missing", Kind: KindPrimary})
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestGetPlacement_KVUnavailable(t *testing.T) {
	service := NewService(&fakeKV{err: errors.New("connection refused")}, nil)
	_, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if status.Code(err) != codes.Internal {
		t.Errorf("Expected Internal, got %v", err)
	}
}

func TestGetPlacement_MalformedRecord(t *testing.T) {
	kv := &fakeKV{records: map[string][]byte{
		placementPrefix + "books": []byte(`not json`),
	}}
	service := NewService(kv, nil)
	_, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if status.Code(err) != codes.Internal {
		t.Errorf("Expected Internal, got %v", err)
	}
}

func TestGetPlacement_EmptyPrimaries(t *testing.T) {
	kv := &fakeKV{records: map[string][]byte{
		placementPrefix + "books": []byte(`{"primaries":[]}`),
	}}
	service := NewService(kv, nil)
	_, err := service.GetPlacement(context.Background(), &PlacementRequest{Index: "books", Kind: KindPrimary})
	if status.Code(err) != codes.Internal {
		t.Errorf("Expected Internal, got %v", err)
	}
}

func TestGetPlacement_MissingIndexName(t *testing.T) {
	service := NewService(&fakeKV{}, nil)
	_, err := service.GetPlacement(context.Background(), &PlacementRequest{Kind: KindPrimary})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}
