// Package clusterrpc is the slimmed-down internal half of pkg/api's
// gRPC cluster API: where pkg/api served every cluster operation over
// mTLS to the CLI and to worker nodes, this package only ever runs
// node-to-node, carrying one thing - a follower forwarding a mutation
// or action it cannot commit itself to whichever node currently holds
// the raft leadership.
package clusterrpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"google.golang.org/grpc"
	"github.com/rs/zerolog"
)

// Server runs the leader-side half of ClusterRPC, executing forwarded
// calls against its own facade.Facade exactly as if they had arrived
// over httpapi locally.
type Server struct {
	facade *facade.Facade
	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewServer constructs a Server bound to f. Cluster-internal traffic is
// assumed to run over a private network the host secures - the same
// Non-goal that dropped pkg/security's mTLS cert issuance - so the
// listener here is plaintext, using grpc.NewServer's simplest shape
// rather than an mTLS-configured one.
func NewServer(f *facade.Facade) *Server {
	s := &Server{facade: f, logger: log.WithComponent("clusterrpc")}
	s.grpc = grpc.NewServer()
	s.grpc.RegisterService(&serviceDesc, Handler(s))
	return s
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("clusterrpc: listen on %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", addr).Msg("cluster rpc listening")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("clusterrpc: serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) ForwardMutation(ctx context.Context, req *ForwardCallRequest) (*ForwardCallResponse, error) {
	res, err := s.facade.Mutation(ctx, toCallRequest(req))
	if err != nil {
		return &ForwardCallResponse{Error: toErrorPayload(err)}, nil
	}
	return &ForwardCallResponse{Result: resultJSON(res.Value), Ts: int64(res.Ts)}, nil
}

func (s *Server) ForwardAction(ctx context.Context, req *ForwardCallRequest) (*ForwardCallResponse, error) {
	res, err := s.facade.Action(ctx, toCallRequest(req))
	if err != nil {
		return &ForwardCallResponse{Error: toErrorPayload(err)}, nil
	}
	return &ForwardCallResponse{Result: resultJSON(res.Value), Ts: int64(res.Ts)}, nil
}

func toCallRequest(req *ForwardCallRequest) facade.CallRequest {
	args, err := decodeArgs(req.Args)
	if err != nil {
		args = types.Null()
	}
	return facade.CallRequest{
		Identity:  txn.Identity{Subject: req.Subject},
		Admin:     req.Admin,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Component: req.Component,
		Path:      req.Path,
		Args:      args,
	}
}

func decodeArgs(raw []byte) (types.Value, error) {
	if len(raw) == 0 {
		return types.Null(), nil
	}
	return types.DecodeInternal(raw)
}

func resultJSON(v *types.Value) []byte {
	if v == nil {
		return nil
	}
	raw, err := types.EncodeInternal(*v)
	if err != nil {
		return nil
	}
	return raw
}

func toErrorPayload(err error) *ErrorPayload {
	redacted := apperr.Redact(err)
	ep := &ErrorPayload{Code: string(apperr.CodeOf(redacted)), Message: redacted.Error()}

	var ae *apperr.Error
	if errors.As(redacted, &ae) && ae.Payload != nil {
		if raw, err := types.EncodeInternal(*ae.Payload); err == nil {
			ep.Payload = raw
		}
	}
	return ep
}
