package placement

import (
	"context"
	"errors"

	"github.com/hashicorp/consul/api"
)

// placementPrefix is where NodeData records live in the KV store.
const placementPrefix = "quarry/indexes/"

// ErrKeyNotFound reports an absent key as distinct from an unreachable
// store.
var ErrKeyNotFound = errors.New("key not found")

// KV is the consistent key-value snapshot the placement service reads.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Shard identifies one shard and the node holding it.
type Shard struct {
	ShardID string `json:"shard_id"`
	Node    string `json:"node"`
}

// NodeData is the per-index placement record written by the cluster
// leader. The primaries list identifies the shard-owner nodes.
type NodeData struct {
	Primaries []Shard `json:"primaries"`
}

// ConsulKV reads placement records from consul with consistent reads.
type ConsulKV struct {
	kv *api.KV
}

// NewConsulKV connects to the consul agent at addr.
func NewConsulKV(addr string) (*ConsulKV, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ConsulKV{kv: client.KV()}, nil
}

func (c *ConsulKV) Get(ctx context.Context, key string) ([]byte, error) {
	opts := &api.QueryOptions{RequireConsistent: true}
	pair, _, err := c.kv.Get(key, opts.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrKeyNotFound
	}
	return pair.Value, nil
}

// Put writes a placement record; the cluster manager uses this side.
func (c *ConsulKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.kv.Put(&api.KVPair{Key: key, Value: value}, (&api.WriteOptions{}).WithContext(ctx))
	return err
}
