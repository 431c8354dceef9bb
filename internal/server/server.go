package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"StableLedger/internal/observability"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// remoteAddrKey carries the HTTP client address from the gateway into the
// interceptor chain.
const remoteAddrKey = "x-stable-remote-addr"

// Options configures a Server. A nil Auth disables authentication and a
// nil Limiter disables rate limiting.
type Options struct {
	GRPCAddr string
	HTTPAddr string
	Auth     *Authenticator
	Limiter  *RateLimiter
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// Server serves LedgerServer over gRPC and over an HTTP/JSON gateway that
// runs the same interceptor chain in process.
type Server struct {
	svc          LedgerServer
	opts         Options
	interceptors []grpc.UnaryServerInterceptor
	grpcServer   *grpc.Server
	healthServer *health.Server
	gateway      *gwruntime.ServeMux
	httpServer   *http.Server
}

func New(svc LedgerServer, opts Options) (*Server, error) {
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker()
	}
	s := &Server{svc: svc, opts: opts}
	s.interceptors = []grpc.UnaryServerInterceptor{
		s.recoverUnary,
		s.observeUnary,
		s.authUnary,
		s.limitUnary,
	}

	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(Codec{}),
		grpc.ChainUnaryInterceptor(s.interceptors...),
	)
	s.grpcServer.RegisterService(&ServiceDesc, svc)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	s.gateway = gwruntime.NewServeMux()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetServing flips gRPC health and HTTP readiness together.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	s.healthServer.SetServingStatus("", st)
	s.opts.Health.SetReady(serving)
}

// Handler is the HTTP surface: the gateway plus liveness and readiness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.opts.Health.LivenessHandler)
	mux.HandleFunc("/readyz", s.opts.Health.ReadinessHandler)
	mux.Handle("/", s.gateway)
	return mux
}

// ServeGRPC serves on lis until ctx is done.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.opts.Logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()
	s.opts.Logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartGRPC listens on GRPCAddr and serves (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.opts.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// StartHTTPGateway serves Handler on HTTPAddr (blocking).
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.opts.Logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.opts.Logger.Info().Str("addr", s.opts.HTTPAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Interceptors
// ============================================================================

func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Error().
				Str("method", info.FullMethod).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic in handler")
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

func (s *Server) observeUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	err = toStatus(err)

	method := path.Base(info.FullMethod)
	code := status.Code(err)
	if m := s.opts.Metrics; m != nil {
		m.RequestsTotal.WithLabelValues(method, code.String()).Inc()
		m.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}

	ev := s.opts.Logger.Debug()
	if code == codes.Internal || code == codes.Unknown {
		ev = s.opts.Logger.Error()
	}
	ev.Str("method", method).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("rpc")
	return resp, err
}

func (s *Server) authUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.opts.Auth == nil {
		return handler(ctx, req)
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}
	raw, err := bearerToken(header)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	caller, err := s.opts.Auth.Verify(raw)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	if adminMethods[path.Base(info.FullMethod)] && !caller.IsAdmin() {
		return nil, status.Errorf(codes.PermissionDenied, "%s requires the admin role", path.Base(info.FullMethod))
	}
	return handler(WithCaller(ctx, caller), req)
}

func (s *Server) limitUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.opts.Limiter == nil {
		return handler(ctx, req)
	}
	if !s.opts.Limiter.Allow(limitKey(ctx)) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.RateLimited.Inc()
		}
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(ctx, req)
}

// limitKey buckets authenticated callers by principal and everyone else by
// client host.
func limitKey(ctx context.Context) string {
	if caller, ok := CallerFrom(ctx); ok {
		return "principal:" + caller.Principal.String()
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "addr:" + hostOnly(p.Addr.String())
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(remoteAddrKey); len(vals) > 0 {
			return "addr:" + hostOnly(vals[0])
		}
	}
	return "anonymous"
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSpace(addr)
}

// chainUnary composes interceptors in order, outermost first.
func chainUnary(interceptors []grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, h := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) {
				return ic(ctx, req, info, h)
			}
		}
		return next(ctx, req)
	}
}
