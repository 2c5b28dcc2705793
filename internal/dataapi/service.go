package dataapi

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "finderid.data.v1.DataService"

const (
	MethodRegister     = "/" + ServiceName + "/Register"
	MethodLogin        = "/" + ServiceName + "/Login"
	MethodRefreshToken = "/" + ServiceName + "/RefreshToken"
	MethodCurrentUser  = "/" + ServiceName + "/CurrentUser"
	MethodInsert       = "/" + ServiceName + "/Insert"
	MethodUpdate       = "/" + ServiceName + "/Update"
	MethodDelete       = "/" + ServiceName + "/Delete"
	MethodSelect       = "/" + ServiceName + "/Select"
	MethodIncrement    = "/" + ServiceName + "/Increment"
	MethodUpload       = "/" + ServiceName + "/Upload"
	MethodRemove       = "/" + ServiceName + "/Remove"
)

type DataServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error)
	CurrentUser(context.Context, *CurrentUserRequest) (*CurrentUserResponse, error)
	Insert(context.Context, *InsertRequest) (*InsertResponse, error)
	Update(context.Context, *UpdateRequest) (*UpdateResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Select(context.Context, *SelectRequest) (*SelectResponse, error)
	Increment(context.Context, *IncrementRequest) (*IncrementResponse, error)
	Upload(context.Context, *UploadRequest) (*UploadResponse, error)
	Remove(context.Context, *RemoveRequest) (*RemoveResponse, error)
}

type DataServiceClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error)
	CurrentUser(ctx context.Context, in *CurrentUserRequest, opts ...grpc.CallOption) (*CurrentUserResponse, error)
	Insert(ctx context.Context, in *InsertRequest, opts ...grpc.CallOption) (*InsertResponse, error)
	Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Select(ctx context.Context, in *SelectRequest, opts ...grpc.CallOption) (*SelectResponse, error)
	Increment(ctx context.Context, in *IncrementRequest, opts ...grpc.CallOption) (*IncrementResponse, error)
	Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*UploadResponse, error)
	Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error)
}

type dataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDataServiceClient(cc grpc.ClientConnInterface) DataServiceClient {
	return &dataServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dataServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *dataServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *dataServiceClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error) {
	return invoke[RefreshTokenResponse](ctx, c.cc, MethodRefreshToken, in, opts)
}

func (c *dataServiceClient) CurrentUser(ctx context.Context, in *CurrentUserRequest, opts ...grpc.CallOption) (*CurrentUserResponse, error) {
	return invoke[CurrentUserResponse](ctx, c.cc, MethodCurrentUser, in, opts)
}

func (c *dataServiceClient) Insert(ctx context.Context, in *InsertRequest, opts ...grpc.CallOption) (*InsertResponse, error) {
	return invoke[InsertResponse](ctx, c.cc, MethodInsert, in, opts)
}

func (c *dataServiceClient) Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error) {
	return invoke[UpdateResponse](ctx, c.cc, MethodUpdate, in, opts)
}

func (c *dataServiceClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c.cc, MethodDelete, in, opts)
}

func (c *dataServiceClient) Select(ctx context.Context, in *SelectRequest, opts ...grpc.CallOption) (*SelectResponse, error) {
	return invoke[SelectResponse](ctx, c.cc, MethodSelect, in, opts)
}

func (c *dataServiceClient) Increment(ctx context.Context, in *IncrementRequest, opts ...grpc.CallOption) (*IncrementResponse, error) {
	return invoke[IncrementResponse](ctx, c.cc, MethodIncrement, in, opts)
}

func (c *dataServiceClient) Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*UploadResponse, error) {
	return invoke[UploadResponse](ctx, c.cc, MethodUpload, in, opts)
}

func (c *dataServiceClient) Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c.cc, MethodRemove, in, opts)
}

// unary adapts a typed server method to grpc's method handler signature.
func unary[Req, Resp any](method string, call func(DataServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DataServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DataServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(MethodRegister, DataServiceServer.Register)},
		{MethodName: "Login", Handler: unary(MethodLogin, DataServiceServer.Login)},
		{MethodName: "RefreshToken", Handler: unary(MethodRefreshToken, DataServiceServer.RefreshToken)},
		{MethodName: "CurrentUser", Handler: unary(MethodCurrentUser, DataServiceServer.CurrentUser)},
		{MethodName: "Insert", Handler: unary(MethodInsert, DataServiceServer.Insert)},
		{MethodName: "Update", Handler: unary(MethodUpdate, DataServiceServer.Update)},
		{MethodName: "Delete", Handler: unary(MethodDelete, DataServiceServer.Delete)},
		{MethodName: "Select", Handler: unary(MethodSelect, DataServiceServer.Select)},
		{MethodName: "Increment", Handler: unary(MethodIncrement, DataServiceServer.Increment)},
		{MethodName: "Upload", Handler: unary(MethodUpload, DataServiceServer.Upload)},
		{MethodName: "Remove", Handler: unary(MethodRemove, DataServiceServer.Remove)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "finderid/data/v1/data.json",
}

func RegisterDataServiceServer(s grpc.ServiceRegistrar, srv DataServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
