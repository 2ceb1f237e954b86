package distributed

import "context"
import "encoding/json"
import "net"
import "sync"
import "time"

import "github.com/cenkalti/backoff/v5"
import "github.com/go-logr/logr"
import "github.com/pkg/errors"
import "google.golang.org/grpc"
import "google.golang.org/grpc/codes"
import "google.golang.org/grpc/credentials/insecure"
import "google.golang.org/grpc/encoding"
import "google.golang.org/grpc/status"

const serviceName = "finetune.distributed.Collective"

const (
	joinMethod     = "/" + serviceName + "/Join"
	exchangeMethod = "/" + serviceName + "/Exchange"
	abortMethod    = "/" + serviceName + "/Abort"
)

// maxMessage bounds one collective payload, the gradients of the whole model.
const maxMessage = 1 << 30

// jsonCodec carries the collective messages without generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type collectiveService interface {
	Join(context.Context, *JoinRequest) (*JoinResponse, error)
	Exchange(context.Context, *Request) (*Response, error)
	Abort(context.Context, *AbortRequest) (*AbortResponse, error)
}

func unary[Req any, Resp any](method string, call func(collectiveService, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(collectiveService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(collectiveService), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*collectiveService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: unary(joinMethod, collectiveService.Join)},
		{MethodName: "Exchange", Handler: unary(exchangeMethod, collectiveService.Exchange)},
		{MethodName: "Abort", Handler: unary(abortMethod, collectiveService.Abort)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "distributed/grpc.go",
}

// collectiveServer exposes a group over gRPC.
type collectiveServer struct {
	g *group
}

func (s *collectiveServer) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	resp, err := s.g.join(ctx, req)
	return resp, toStatus(err)
}

func (s *collectiveServer) Exchange(ctx context.Context, req *Request) (*Response, error) {
	resp, err := s.g.exchange(ctx, req)
	return resp, toStatus(err)
}

func (s *collectiveServer) Abort(_ context.Context, req *AbortRequest) (*AbortResponse, error) {
	return &AbortResponse{}, toStatus(s.g.fail(req))
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCollectiveMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrGroupAborted):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrStaleSession):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.InvalidArgument, err.Error())
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return errors.Wrap(ErrCollectiveMismatch, st.Message())
	case codes.Aborted:
		return errors.Wrap(ErrGroupAborted, st.Message())
	case codes.PermissionDenied:
		return errors.Wrap(ErrStaleSession, st.Message())
	case codes.Canceled:
		return errors.Wrap(context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return errors.Wrap(context.DeadlineExceeded, st.Message())
	}
	return errors.Errorf("distributed: %s", st.Message())
}

// grpcBackend connects a rank to the collective service. Rank 0 also hosts
// the service on the master address.
type grpcBackend struct {
	env  Env
	log  logr.Logger
	conn *grpc.ClientConn

	mu     sync.Mutex
	server *grpc.Server
}

// NewGRPCBackend creates the gRPC backend of env.Rank. No connection is
// made before Join.
func NewGRPCBackend(env Env, log logr.Logger) (Backend, error) {
	conn, err := grpc.NewClient(env.Addr(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(jsonCodec{}.Name()),
			grpc.MaxCallRecvMsgSize(maxMessage),
			grpc.MaxCallSendMsgSize(maxMessage),
		),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "distributed: dialing %s", env.Addr())
	}
	return &grpcBackend{env: env, log: log, conn: conn}, nil
}

func (b *grpcBackend) serve() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server != nil {
		return nil
	}
	lis, err := net.Listen("tcp", b.env.Addr())
	if err != nil {
		return errors.Wrapf(err, "distributed: listening on %s", b.env.Addr())
	}
	b.server = grpc.NewServer(grpc.MaxRecvMsgSize(maxMessage), grpc.MaxSendMsgSize(maxMessage))
	b.server.RegisterService(&serviceDesc, &collectiveServer{g: newGroup(b.env.WorldSize)})
	go func() {
		if err := b.server.Serve(lis); err != nil {
			b.log.Error(err, "collective service stopped")
		}
	}()
	b.log.Info("collective service listening", "addr", lis.Addr().String(), "world_size", b.env.WorldSize)
	return nil
}

// Join retries while the master is unreachable, until ctx expires.
func (b *grpcBackend) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	if b.env.Rank == 0 {
		if err := b.serve(); err != nil {
			return nil, err
		}
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(backoff.NewExponentialBackOff())}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, backoff.WithMaxElapsedTime(time.Until(deadline)))
	}
	attempt := 0
	return backoff.Retry(ctx, func() (*JoinResponse, error) {
		attempt++
		out := new(JoinResponse)
		err := b.conn.Invoke(ctx, joinMethod, req, out)
		if err == nil {
			return out, nil
		}
		if status.Code(err) == codes.Unavailable {
			b.log.V(1).Info("master not reachable yet", "addr", b.env.Addr(), "attempt", attempt)
			return nil, err
		}
		return nil, backoff.Permanent(fromStatus(err))
	}, opts...)
}

func (b *grpcBackend) Exchange(ctx context.Context, req *Request) (*Response, error) {
	out := new(Response)
	if err := b.conn.Invoke(ctx, exchangeMethod, req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (b *grpcBackend) Abort(ctx context.Context, req *AbortRequest) error {
	return fromStatus(b.conn.Invoke(ctx, abortMethod, req, new(AbortResponse)))
}

// Close drops the connection. On rank 0 it also stops the service once the
// responses of the last round are delivered.
func (b *grpcBackend) Close() error {
	err := b.conn.Close()
	b.mu.Lock()
	server := b.server
	b.server = nil
	b.mu.Unlock()
	if server != nil {
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			server.Stop()
		}
	}
	return err
}
