package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "vaultsync.SyncService"

const (
	RegisterUserFullMethod = "/" + ServiceName + "/RegisterUser"
	GetSaltFullMethod      = "/" + ServiceName + "/GetSalt"
	LoginFullMethod        = "/" + ServiceName + "/Login"
	RefreshTokenFullMethod = "/" + ServiceName + "/RefreshToken"
	PingFullMethod         = "/" + ServiceName + "/Ping"
	SyncFullMethod         = "/" + ServiceName + "/Sync"
)

type SyncServiceServer interface {
	RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error)
	GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Sync(SyncService_SyncServer) error
	mustEmbedUnimplementedSyncServiceServer()
}

// UnimplementedSyncServiceServer must be embedded by every server so that
// methods added later answer codes.Unimplemented instead of breaking the
// build.
type UnimplementedSyncServiceServer struct{}

func (UnimplementedSyncServiceServer) RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RegisterUser not implemented")
}
func (UnimplementedSyncServiceServer) GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSalt not implemented")
}
func (UnimplementedSyncServiceServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedSyncServiceServer) RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RefreshToken not implemented")
}
func (UnimplementedSyncServiceServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedSyncServiceServer) Sync(SyncService_SyncServer) error {
	return status.Error(codes.Unimplemented, "method Sync not implemented")
}
func (UnimplementedSyncServiceServer) mustEmbedUnimplementedSyncServiceServer() {}

// SyncService_SyncServer is the server side of the bidirectional stream.
type SyncService_SyncServer interface {
	Send(*ServerFrame) error
	Recv() (*ClientFrame, error)
	grpc.ServerStream
}

type syncServer struct {
	grpc.ServerStream
}

func (s *syncServer) Send(f *ServerFrame) error { return s.ServerStream.SendMsg(f) }

func (s *syncServer) Recv() (*ClientFrame, error) {
	f := new(ClientFrame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func unary[Req, Resp any](name string, call func(SyncServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes SyncService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RegisterUser", SyncServiceServer.RegisterUser),
		unary("GetSalt", SyncServiceServer.GetSalt),
		unary("Login", SyncServiceServer.Login),
		unary("RefreshToken", SyncServiceServer.RefreshToken),
		unary("Ping", SyncServiceServer.Ping),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Sync",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(SyncServiceServer).Sync(&syncServer{stream})
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "vaultsync.proto",
}

func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type SyncServiceClient interface {
	RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error)
	GetSalt(ctx context.Context, in *GetSaltRequest, opts ...grpc.CallOption) (*GetSaltResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error)
	Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error)
	Sync(ctx context.Context, opts ...grpc.CallOption) (SyncService_SyncClient, error)
}

// SyncService_SyncClient is the client side of the bidirectional stream.
type SyncService_SyncClient interface {
	Send(*ClientFrame) error
	Recv() (*ServerFrame, error)
	grpc.ClientStream
}

type syncServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncServiceClient(cc grpc.ClientConnInterface) SyncServiceClient {
	return &syncServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncServiceClient) RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error) {
	return invoke[RegisterUserResponse](ctx, c.cc, RegisterUserFullMethod, in, opts)
}

func (c *syncServiceClient) GetSalt(ctx context.Context, in *GetSaltRequest, opts ...grpc.CallOption) (*GetSaltResponse, error) {
	return invoke[GetSaltResponse](ctx, c.cc, GetSaltFullMethod, in, opts)
}

func (c *syncServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, LoginFullMethod, in, opts)
}

func (c *syncServiceClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error) {
	return invoke[RefreshTokenResponse](ctx, c.cc, RefreshTokenFullMethod, in, opts)
}

func (c *syncServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, PingFullMethod, in, opts)
}

func (c *syncServiceClient) Sync(ctx context.Context, opts ...grpc.CallOption) (SyncService_SyncClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SyncFullMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &syncClient{stream}, nil
}

type syncClient struct {
	grpc.ClientStream
}

func (s *syncClient) Send(f *ClientFrame) error { return s.ClientStream.SendMsg(f) }

func (s *syncClient) Recv() (*ServerFrame, error) {
	f := new(ServerFrame)
	if err := s.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}
