package api

import (
	"context"
)

func (c *Control) SendMessage(ctx context.Context, req SendRequest) (MessageResponse, error) {
	if err := required("from", req.From, "to", req.To, "text", req.Text); err != nil {
		return MessageResponse{}, err
	}
	msg, err := c.svc.SendMessage(ctx, req.From, req.To, req.Text)
	return MessageResponse{Message: msg}, err
}

// Conversation returns the viewer's copy. With MarkRead the unread count is
// taken before the conversation is marked read.
func (c *Control) Conversation(ctx context.Context, req ConversationRequest) (ConversationResponse, error) {
	if err := required("viewer", req.Viewer, "other", req.Other); err != nil {
		return ConversationResponse{}, err
	}
	resp := ConversationResponse{
		Messages: c.svc.Conversation(req.Viewer, req.Other),
		Unread:   c.svc.UnreadCount(req.Viewer, req.Other),
	}
	if req.MarkRead && resp.Unread > 0 {
		if _, err := c.svc.MarkConversationRead(ctx, req.Viewer, req.Other); err != nil {
			return ConversationResponse{}, err
		}
	}
	return resp, nil
}

func (c *Control) MarkRead(ctx context.Context, req ConversationRequest) (CountResponse, error) {
	if err := required("viewer", req.Viewer, "other", req.Other); err != nil {
		return CountResponse{}, err
	}
	n, err := c.svc.MarkConversationRead(ctx, req.Viewer, req.Other)
	return CountResponse{Count: n}, err
}

func (c *Control) ClearHistory(ctx context.Context, req ConversationRequest) (CountResponse, error) {
	if err := required("viewer", req.Viewer, "other", req.Other); err != nil {
		return CountResponse{}, err
	}
	n, err := c.svc.ClearHistory(ctx, req.Viewer, req.Other)
	return CountResponse{Count: n}, err
}

func (c *Control) DeleteMessages(ctx context.Context, req DeleteRequest) (CountResponse, error) {
	if err := required("deviceA", req.DeviceA, "deviceB", req.DeviceB); err != nil {
		return CountResponse{}, err
	}
	n, err := c.svc.DeleteMessages(ctx, req.DeviceA, req.DeviceB, req.MessageIDs)
	return CountResponse{Count: n}, err
}
