package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a daemon's control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's unix domain socket. Extra options are
// appended to the defaults.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient("unix://"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (Resp, error) {
	var resp Resp
	raw, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, fullMethod(method), wrapperspb.Bytes(raw), out); err != nil {
		return resp, err
	}
	if err := json.Unmarshal(out.GetValue(), &resp); err != nil {
		return resp, fmt.Errorf("decode %s response: %w", method, err)
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, MethodStatus, Empty{})
}

func (c *Client) RegisterDevice(ctx context.Context, req DeviceRequest) (DeviceInfo, error) {
	return invoke[DeviceInfo](ctx, c, MethodRegisterDevice, req)
}

func (c *Client) RemoveDevice(ctx context.Context, deviceID string) error {
	_, err := invoke[Empty](ctx, c, MethodRemoveDevice, DeviceRequest{DeviceID: deviceID})
	return err
}

func (c *Client) OpenDevice(ctx context.Context, deviceID string) (OpenResponse, error) {
	return invoke[OpenResponse](ctx, c, MethodOpenDevice, DeviceRequest{DeviceID: deviceID})
}

func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	resp, err := invoke[DevicesResponse](ctx, c, MethodDevices, Empty{})
	return resp.Devices, err
}

func (c *Client) LookupPhoneNumber(ctx context.Context, number string) (DeviceInfo, error) {
	return invoke[DeviceInfo](ctx, c, MethodLookupPhoneNumber, LookupRequest{Number: number})
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (MessageResponse, error) {
	return invoke[MessageResponse](ctx, c, MethodSendMessage, req)
}

func (c *Client) Conversation(ctx context.Context, req ConversationRequest) (ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c, MethodConversation, req)
}

func (c *Client) MarkRead(ctx context.Context, viewer, other string) (int, error) {
	resp, err := invoke[CountResponse](ctx, c, MethodMarkRead, ConversationRequest{Viewer: viewer, Other: other})
	return resp.Count, err
}

func (c *Client) ClearHistory(ctx context.Context, viewer, other string) (int, error) {
	resp, err := invoke[CountResponse](ctx, c, MethodClearHistory, ConversationRequest{Viewer: viewer, Other: other})
	return resp.Count, err
}

func (c *Client) DeleteMessages(ctx context.Context, req DeleteRequest) (int, error) {
	resp, err := invoke[CountResponse](ctx, c, MethodDeleteMessages, req)
	return resp.Count, err
}

func (c *Client) Contacts(ctx context.Context, deviceID string) (ContactsResponse, error) {
	return invoke[ContactsResponse](ctx, c, MethodContacts, ContactRequest{DeviceID: deviceID})
}

func (c *Client) AddContact(ctx context.Context, req ContactRequest) (string, error) {
	resp, err := invoke[ContactResponse](ctx, c, MethodAddContact, req)
	return resp.ContactID, err
}

func (c *Client) RemoveContact(ctx context.Context, deviceID, contactID string) error {
	_, err := invoke[Empty](ctx, c, MethodRemoveContact, ContactRequest{DeviceID: deviceID, ContactID: contactID})
	return err
}

func (c *Client) SetMute(ctx context.Context, req MuteRequest) (bool, error) {
	resp, err := invoke[MuteResponse](ctx, c, MethodSetMute, req)
	return resp.Muted, err
}

func (c *Client) World(ctx context.Context) (WorldResponse, error) {
	return invoke[WorldResponse](ctx, c, MethodWorld, Empty{})
}

func (c *Client) RequestWorldSnapshot(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, MethodRequestWorldSnapshot, Empty{})
	return err
}

// WatchEvents streams daemon bus events until ctx ends. The returned
// channel closes when the stream does.
func (c *Client) WatchEvents(ctx context.Context, prefix string) (<-chan WatchEvent, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(WatchRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.Bytes(raw)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan WatchEvent, 16)
	go func() {
		defer close(out)
		for {
			in := new(wrapperspb.BytesValue)
			if err := stream.RecvMsg(in); err != nil {
				return
			}
			var evt WatchEvent
			if err := json.Unmarshal(in.GetValue(), &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
