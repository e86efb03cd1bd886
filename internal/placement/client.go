package placement

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client resolves placements against a remote placement server.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to the placement server at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// GetPlacement asks which node owns a shard of kind for the named index.
func (c *Client) GetPlacement(ctx context.Context, index string, kind ShardKind) (*PlacementReply, error) {
	req := &PlacementRequest{Index: index, Kind: kind}
	reply := new(PlacementReply)
	if err := c.conn.Invoke(ctx, getPlacementMethod, req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
