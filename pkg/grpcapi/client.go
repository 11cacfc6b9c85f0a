package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/api"
	"github.com/psaab/nicqos/pkg/profile"
)

// Client is a typed client of the Control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a nicqosd gRPC endpoint without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with in and returns the raw reply.
func (c *Client) Call(ctx context.Context, method string, in proto.Message) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	var in proto.Message = new(emptypb.Empty)
	if req != nil {
		s, err := toStruct(req)
		if err != nil {
			return err
		}
		in = s
	}
	out, err := c.Call(ctx, method, in)
	if err != nil {
		return err
	}
	if err := fromStruct(out, resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var r api.StatusResponse
	return r, c.call(ctx, "GetStatus", nil, &r)
}

func (c *Client) Statistics(ctx context.Context) (api.StatisticsResponse, error) {
	var r api.StatisticsResponse
	return r, c.call(ctx, "GetStatistics", nil, &r)
}

func (c *Client) Profile(ctx context.Context) (api.ProfileResponse, error) {
	var r api.ProfileResponse
	return r, c.call(ctx, "GetProfile", nil, &r)
}

// ApplyProfileByName activates a built-in or configured profile.
func (c *Client) ApplyProfileByName(ctx context.Context, name string) (profile.Result, error) {
	var r profile.Result
	return r, c.call(ctx, "ApplyProfile", api.ProfileRequest{Name: name}, &r)
}

// ApplyProfile activates p.
func (c *Client) ApplyProfile(ctx context.Context, p profile.GamingProfile) (profile.Result, error) {
	var r profile.Result
	return r, c.call(ctx, "ApplyProfile", api.ProfileRequest{Profile: &p}, &r)
}

func (c *Client) SetFeature(ctx context.Context, feature string, enable bool) (profile.Result, error) {
	var r profile.Result
	return r, c.call(ctx, "SetFeature", featureRequest{Feature: feature, Enable: enable}, &r)
}

func (c *Client) Restart(ctx context.Context) (adapter.RestartResult, error) {
	var r adapter.RestartResult
	return r, c.call(ctx, "Restart", nil, &r)
}

func (c *Client) Rollback(ctx context.Context, n int) (profile.Result, error) {
	var r profile.Result
	return r, c.call(ctx, "Rollback", api.RollbackRequest{N: n}, &r)
}

func (c *Client) Classify(ctx context.Context, src, dst uint16) (api.ClassifyResponse, error) {
	var r api.ClassifyResponse
	return r, c.call(ctx, "Classify", classifyRequest{SrcPort: src, DstPort: dst}, &r)
}
