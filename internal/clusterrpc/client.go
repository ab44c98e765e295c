package clusterrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the follower side of ClusterRPC: a thin wrapper a node's
// httpapi server holds onto so it can forward a mutation or action to
// whichever node is currently raft leader, mirroring pkg/client.Client's
// role as the CLI's gRPC connection wrapper.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials addr. Connection setup is lazy (grpc.NewClient does
// not block), matching how committer/facade treat leader address
// changes as routine, not exceptional.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ForwardMutation asks the node at the other end of c to run a mutation
// against its own facade.Facade.
func (c *Client) ForwardMutation(ctx context.Context, req *ForwardCallRequest) (*ForwardCallResponse, error) {
	return c.call(ctx, "ForwardMutation", req)
}

// ForwardAction asks the node at the other end of c to run an action
// against its own facade.Facade.
func (c *Client) ForwardAction(ctx context.Context, req *ForwardCallRequest) (*ForwardCallResponse, error) {
	return c.call(ctx, "ForwardAction", req)
}

func (c *Client) call(ctx context.Context, method string, req *ForwardCallRequest) (*ForwardCallResponse, error) {
	resp := new(ForwardCallResponse)
	fullMethod := "/" + serviceName + "/" + method
	if err := c.conn.Invoke(ctx, fullMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, fmt.Errorf("clusterrpc: %s: %w", method, err)
	}
	return resp, nil
}
