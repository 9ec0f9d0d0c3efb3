package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote machine service.
type Client struct {
	load     *connect.Client[LoadRequest, LoadResponse]
	tick     *connect.Client[TickRequest, TickResponse]
	nodes    *connect.Client[NodesRequest, NodesResponse]
	snapshot *connect.Client[SnapshotRequest, SnapshotResponse]
	info     *connect.Client[InfoRequest, InfoResponse]
}

// NewClient creates a Client for the service at baseURL, for example
// http://localhost:4568.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		load:     connect.NewClient[LoadRequest, LoadResponse](httpClient, baseURL+LoadProcedure, opts...),
		tick:     connect.NewClient[TickRequest, TickResponse](httpClient, baseURL+TickProcedure, opts...),
		nodes:    connect.NewClient[NodesRequest, NodesResponse](httpClient, baseURL+NodesProcedure, opts...),
		snapshot: connect.NewClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL+SnapshotProcedure, opts...),
		info:     connect.NewClient[InfoRequest, InfoResponse](httpClient, baseURL+InfoProcedure, opts...),
	}
}

// Load installs an inline load buffer.
func (c *Client) Load(ctx context.Context, code []byte) (*LoadResponse, error) {
	res, err := c.load.CallUnary(ctx, connect.NewRequest(&LoadRequest{Code: code}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// LoadProgram installs a program from the server's store.
func (c *Client) LoadProgram(ctx context.Context, name string) (*LoadResponse, error) {
	res, err := c.load.CallUnary(ctx, connect.NewRequest(&LoadRequest{Program: name}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Tick runs count ticks on the remote machine.
func (c *Client) Tick(ctx context.Context, count int) (*TickResponse, error) {
	res, err := c.tick.CallUnary(ctx, connect.NewRequest(&TickRequest{Count: count}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Nodes fetches the remote node graph.
func (c *Client) Nodes(ctx context.Context) (*NodesResponse, error) {
	res, err := c.nodes.CallUnary(ctx, connect.NewRequest(&NodesRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Snapshot fetches a machine image.
func (c *Client) Snapshot(ctx context.Context) (*SnapshotResponse, error) {
	res, err := c.snapshot.CallUnary(ctx, connect.NewRequest(&SnapshotRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Info fetches the machine ID and counters.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	res, err := c.info.CallUnary(ctx, connect.NewRequest(&InfoRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
