package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dm.v1.MessagingService"

// Full method names, as seen by interceptors.
const (
	MethodRegister          = "/" + ServiceName + "/Register"
	MethodLogin             = "/" + ServiceName + "/Login"
	MethodListUsers         = "/" + ServiceName + "/ListUsers"
	MethodSendMessage       = "/" + ServiceName + "/SendMessage"
	MethodGetConversation   = "/" + ServiceName + "/GetConversation"
	MethodListConversations = "/" + ServiceName + "/ListConversations"
	MethodMarkRead          = "/" + ServiceName + "/MarkRead"
	MethodTyping            = "/" + ServiceName + "/Typing"
	MethodSubscribe         = "/" + ServiceName + "/Subscribe"
)

// SubscribeServer is the server side of the Subscribe stream.
type SubscribeServer = grpc.ServerStreamingServer[events.Frame]

// MessagingServer is implemented by the service.
type MessagingServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	ListUsers(context.Context, *ListUsersRequest) (*ListUsersResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	GetConversation(context.Context, *GetConversationRequest) (*GetConversationResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	Typing(context.Context, *TypingRequest) (*TypingResponse, error)
	Subscribe(*SubscribeRequest, SubscribeServer) error
}

// RegisterMessagingServer registers srv on s.
func RegisterMessagingServer(s grpc.ServiceRegistrar, srv MessagingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes dm.v1.MessagingService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", MessagingServer.Register),
		unary("Login", MessagingServer.Login),
		unary("ListUsers", MessagingServer.ListUsers),
		unary("SendMessage", MessagingServer.SendMessage),
		unary("GetConversation", MessagingServer.GetConversation),
		unary("ListConversations", MessagingServer.ListConversations),
		unary("MarkRead", MessagingServer.MarkRead),
		unary("Typing", MessagingServer.Typing),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dm/v1/messaging",
}

// unary builds the descriptor of a unary method that decodes into Req and
// dispatches to call through the server's interceptor chain.
func unary[Req, Resp any](name string, call func(MessagingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MessagingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MessagingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MessagingServer).Subscribe(in, &grpc.GenericServerStream[SubscribeRequest, events.Frame]{ServerStream: stream})
}
