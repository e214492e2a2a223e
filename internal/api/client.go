package api

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return FromError(err)
	}
	return nil
}

func (c *Client) RequestPairing(ctx context.Context, sessionID string) (*PairingResponse, error) {
	out := new(PairingResponse)
	return out, c.invoke(ctx, "RequestPairing", &SessionRequest{SessionID: sessionID}, out)
}

func (c *Client) PairingCode(ctx context.Context, sessionID string) (*PairingResponse, error) {
	out := new(PairingResponse)
	return out, c.invoke(ctx, "PairingCode", &SessionRequest{SessionID: sessionID}, out)
}

func (c *Client) GetStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	out := new(StatusResponse)
	return out, c.invoke(ctx, "GetStatus", &SessionRequest{SessionID: sessionID}, out)
}

func (c *Client) ListSessions(ctx context.Context) (*ListSessionsResponse, error) {
	out := new(ListSessionsResponse)
	return out, c.invoke(ctx, "ListSessions", &Empty{}, out)
}

func (c *Client) ListConversations(ctx context.Context, sessionID string) (*ConversationsResponse, error) {
	out := new(ConversationsResponse)
	return out, c.invoke(ctx, "ListConversations", &SessionRequest{SessionID: sessionID}, out)
}

func (c *Client) ListContacts(ctx context.Context, sessionID string) (*ContactsResponse, error) {
	out := new(ContactsResponse)
	return out, c.invoke(ctx, "ListContacts", &SessionRequest{SessionID: sessionID}, out)
}

func (c *Client) LoadMessages(ctx context.Context, req *LoadMessagesRequest) (*MessagesResponse, error) {
	out := new(MessagesResponse)
	return out, c.invoke(ctx, "LoadMessages", req, out)
}

func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	out := new(SendResponse)
	return out, c.invoke(ctx, "Send", req, out)
}

func (c *Client) ListDeliveries(ctx context.Context, req *ListDeliveriesRequest) (*DeliveriesResponse, error) {
	out := new(DeliveriesResponse)
	return out, c.invoke(ctx, "ListDeliveries", req, out)
}

func (c *Client) GetWebhookLog(ctx context.Context) (*WebhookLogResponse, error) {
	out := new(WebhookLogResponse)
	return out, c.invoke(ctx, "GetWebhookLog", &Empty{}, out)
}

func (c *Client) UpdateNotifierConfig(ctx context.Context, req *NotifierConfigRequest) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "UpdateNotifierConfig", req, out)
}

func (c *Client) RemoveSession(ctx context.Context, sessionID string) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "RemoveSession", &SessionRequest{SessionID: sessionID}, out)
}

func (c *Client) UpsertAccount(ctx context.Context, req *AccountRequest) (*Ack, error) {
	out := new(Ack)
	return out, c.invoke(ctx, "UpsertAccount", req, out)
}

func (c *Client) ListAccounts(ctx context.Context) (*AccountsResponse, error) {
	out := new(AccountsResponse)
	return out, c.invoke(ctx, "ListAccounts", &Empty{}, out)
}

// Watch streams events to fn until ctx is done, the server ends the stream
// or fn returns an error.
func (c *Client) Watch(ctx context.Context, req *WatchRequest, fn func(*EventEnvelope) error) error {
	stream, err := c.conn.NewStream(ctx, &HubServiceDesc.Streams[0], "/"+ServiceName+"/Watch")
	if err != nil {
		return FromError(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return FromError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return FromError(err)
	}
	for {
		env := new(EventEnvelope)
		if err := stream.RecvMsg(env); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return FromError(err)
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
