package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/thecodingmachine/security.userfiledao/internal/service"
)

// DirectoryServer is the session API served under DirectoryService.
// Messages are well-known types, so no generated code is needed.
type DirectoryServer interface {
	// Login takes {"login", "password"} and returns {"access_token", "expires_at", "login"}.
	Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	// Whoami returns {"login", "options"} of the caller.
	Whoami(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	// Logout revokes the caller's token.
	Logout(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
}

// Full method names.
const (
	MethodLogin  = "/" + DirectoryService + "/Login"
	MethodWhoami = "/" + DirectoryService + "/Whoami"
	MethodLogout = "/" + DirectoryService + "/Logout"
)

// Server wires the auth service into gRPC handlers.
type Server struct {
	auth service.AuthService
}

var _ DirectoryServer = (*Server)(nil)

// New constructs a handler set.
func New(auth service.AuthService) *Server {
	return &Server{auth: auth}
}

// Login authenticates and returns an access token.
func (s *Server) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	login, password := f["login"].GetStringValue(), f["password"].GetStringValue()
	if login == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty login/password")
	}
	tok, u, err := s.auth.Login(ctx, login, password, remoteHost(ctx))
	if err != nil {
		return nil, ToStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"access_token": structpb.NewStringValue(tok.AccessToken),
		"expires_at":   structpb.NewStringValue(tok.ExpiresAt.UTC().Format(time.RFC3339)),
		"login":        structpb.NewStringValue(u.Login()),
	}}, nil
}

// Whoami echoes the authenticated user.
func (s *Server) Whoami(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	u, ok := UserFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	opts := u.Options()
	if opts == nil {
		opts = structpb.NewNullValue()
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"login":   structpb.NewStringValue(u.Login()),
		"options": opts,
	}}, nil
}

// Logout revokes the bearer token of the call.
func (s *Server) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if err := s.auth.Logout(ctx, tok); err != nil {
		return nil, ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// RegisterDirectoryServer registers srv on s.
func RegisterDirectoryServer(s grpc.ServiceRegistrar, srv DirectoryServer) {
	s.RegisterService(&directoryServiceDesc, srv)
}

var directoryServiceDesc = grpc.ServiceDesc{
	ServiceName: DirectoryService,
	HandlerType: (*DirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: loginHandler},
		{MethodName: "Whoami", Handler: whoamiHandler},
		{MethodName: "Logout", Handler: logoutHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func loginHandler(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(DirectoryServer).Login(ctx, req.(*structpb.Struct))
	}
	if ic == nil {
		return call(ctx, in)
	}
	return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLogin}, call)
}

func whoamiHandler(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(DirectoryServer).Whoami(ctx, req.(*emptypb.Empty))
	}
	if ic == nil {
		return call(ctx, in)
	}
	return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodWhoami}, call)
}

func logoutHandler(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(DirectoryServer).Logout(ctx, req.(*emptypb.Empty))
	}
	if ic == nil {
		return call(ctx, in)
	}
	return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodLogout}, call)
}

// NewGRPCServer builds a grpc.Server with the interceptor chain, the
// directory service and the health service registered.
func NewGRPCServer(log *zap.Logger, auth service.AuthService, hs *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		AuthUnary(auth, MethodLogin, "/grpc.health.v1.Health/"),
		LoggingUnary(log),
	))
	s := grpc.NewServer(opts...)
	RegisterDirectoryServer(s, New(auth))
	healthpb.RegisterHealthServer(s, hs)
	return s
}
