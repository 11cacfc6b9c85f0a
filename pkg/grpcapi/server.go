package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/api"
	"github.com/psaab/nicqos/pkg/configstore"
	"github.com/psaab/nicqos/pkg/dataplane"
	"github.com/psaab/nicqos/pkg/profile"
)

// Config configures the gRPC server.
type Config struct {
	Adapter *adapter.Adapter
	Store   *configstore.Store
	DP      dataplane.DataPlane
}

// Server implements the Control gRPC service.
type Server struct {
	adapter *adapter.Adapter
	store   *configstore.Store
	dp      dataplane.DataPlane
	addr    string
}

var _ ControlServer = (*Server)(nil)

// NewServer creates a new gRPC server.
func NewServer(addr string, cfg Config) *Server {
	return &Server{
		adapter: cfg.Adapter,
		store:   cfg.Store,
		dp:      cfg.DP,
		addr:    addr,
	}
}

// Run starts the gRPC server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	RegisterControlServer(srv, s)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	srv.GracefulStop()
	return nil
}

func reply(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return s, nil
}

func decodeRequest(in *structpb.Struct, v any) error {
	if err := fromStruct(in, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// applyError maps a profile application error to a status.
func applyError(err error) error {
	if errors.Is(err, profile.ErrInvalidProfile) {
		return status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return status.Errorf(codes.Internal, "%v", err)
}

func (s *Server) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	resp := api.StatusResponse{
		Status:          s.adapter.Status(),
		DataplaneLoaded: s.dp != nil && s.dp.IsLoaded(),
	}
	if s.store != nil {
		resp.ActiveConfig = s.store.ActiveConfig().Gaming.ActiveProfile
	}
	return reply(resp)
}

func (s *Server) GetStatistics(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return reply(api.NewStatisticsResponse(s.adapter.PerformanceStats()))
}

func (s *Server) GetProfile(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p := s.adapter.ActiveProfile()
	return reply(api.ProfileResponse{
		DisplayName: p.DisplayName(),
		Profile:     p,
		Generation:  s.adapter.Status().Generation,
	})
}

func (s *Server) ApplyProfile(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ProfileRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if (req.Name == "") == (req.Profile == nil) {
		return nil, status.Error(codes.InvalidArgument, "exactly one of name or profile is required")
	}

	var p profile.GamingProfile
	if req.Profile != nil {
		p = *req.Profile
	} else {
		var err error
		if s.store != nil {
			p, err = s.store.ActiveConfig().ResolveProfile(req.Name)
		} else {
			var k profile.Kind
			if k, err = profile.ParseKind(req.Name); err == nil {
				p = profile.ForKind(k)
			}
		}
		if err != nil {
			return nil, status.Errorf(codes.NotFound, "%v", err)
		}
	}

	res, err := s.adapter.ApplyProfile(p)
	if err != nil {
		return nil, applyError(err)
	}
	if req.Name != "" && s.store != nil {
		if err := s.store.SetActiveProfile(req.Name); err != nil {
			slog.Warn("failed to record active profile", "profile", req.Name, "err", err)
		}
	}
	return reply(res)
}

// featureRequest is the SetFeature payload.
type featureRequest struct {
	Feature string `json:"feature"`
	Enable  bool   `json:"enable"`
}

func (s *Server) SetFeature(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req featureRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	f, err := profile.ParseFeature(req.Feature)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "%v", err)
	}
	res, err := s.adapter.SetFeature(f, req.Enable)
	if err != nil {
		return nil, applyError(err)
	}
	return reply(res)
}

func (s *Server) Restart(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.adapter.Restart()
	if errors.Is(err, adapter.ErrRingsBusy) {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return reply(res)
}

func (s *Server) Rollback(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.RollbackRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.N < 0 || req.N >= len(s.adapter.ProfileHistory()) {
		return nil, status.Errorf(codes.NotFound, "rollback %d: no such profile", req.N)
	}
	res, err := s.adapter.Rollback(req.N)
	if err != nil {
		return nil, applyError(err)
	}
	return reply(res)
}

// classifyRequest is the Classify payload.
type classifyRequest struct {
	SrcPort uint16 `json:"src_port"`
	DstPort uint16 `json:"dst_port"`
}

func (s *Server) Classify(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req classifyRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	c, p := s.adapter.Classify(req.SrcPort, req.DstPort)
	return reply(api.ClassifyResponse{
		SrcPort:  req.SrcPort,
		DstPort:  req.DstPort,
		Class:    c.String(),
		Priority: p.String(),
		DSCP:     p.DSCP(),
	})
}
