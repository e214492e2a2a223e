package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wpphub.v1.Hub"

// HubServer is the server API of the hub service.
type HubServer interface {
	RequestPairing(context.Context, *SessionRequest) (*PairingResponse, error)
	PairingCode(context.Context, *SessionRequest) (*PairingResponse, error)
	GetStatus(context.Context, *SessionRequest) (*StatusResponse, error)
	ListSessions(context.Context, *Empty) (*ListSessionsResponse, error)
	ListConversations(context.Context, *SessionRequest) (*ConversationsResponse, error)
	ListContacts(context.Context, *SessionRequest) (*ContactsResponse, error)
	LoadMessages(context.Context, *LoadMessagesRequest) (*MessagesResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	ListDeliveries(context.Context, *ListDeliveriesRequest) (*DeliveriesResponse, error)
	GetWebhookLog(context.Context, *Empty) (*WebhookLogResponse, error)
	UpdateNotifierConfig(context.Context, *NotifierConfigRequest) (*Ack, error)
	RemoveSession(context.Context, *SessionRequest) (*Ack, error)
	UpsertAccount(context.Context, *AccountRequest) (*Ack, error)
	ListAccounts(context.Context, *Empty) (*AccountsResponse, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

var _ HubServer = (*Hub)(nil)

// unary adapts a typed method into a grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(HubServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HubServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HubServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HubServer).Watch(in, stream)
}

// HubServiceDesc describes the hub service for grpc.Server.
var HubServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HubServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RequestPairing", HubServer.RequestPairing),
		unary("PairingCode", HubServer.PairingCode),
		unary("GetStatus", HubServer.GetStatus),
		unary("ListSessions", HubServer.ListSessions),
		unary("ListConversations", HubServer.ListConversations),
		unary("ListContacts", HubServer.ListContacts),
		unary("LoadMessages", HubServer.LoadMessages),
		unary("Send", HubServer.Send),
		unary("ListDeliveries", HubServer.ListDeliveries),
		unary("GetWebhookLog", HubServer.GetWebhookLog),
		unary("UpdateNotifierConfig", HubServer.UpdateNotifierConfig),
		unary("RemoveSession", HubServer.RemoveSession),
		unary("UpsertAccount", HubServer.UpsertAccount),
		unary("ListAccounts", HubServer.ListAccounts),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "wpphub/v1/hub",
}

// RegisterHubServer registers srv on s.
func RegisterHubServer(s grpc.ServiceRegistrar, srv HubServer) {
	s.RegisterService(&HubServiceDesc, srv)
}
