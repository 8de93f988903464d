package api

import (
	"context"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func (c *Control) Contacts(ctx context.Context, req ContactRequest) (ContactsResponse, error) {
	if err := required("deviceId", req.DeviceID); err != nil {
		return ContactsResponse{}, err
	}
	entries, err := c.svc.ContactList(ctx, req.DeviceID)
	return ContactsResponse{Contacts: entries}, err
}

// AddContact adds by device ID, or by phone number when ContactID is empty.
func (c *Control) AddContact(ctx context.Context, req ContactRequest) (ContactResponse, error) {
	if err := required("deviceId", req.DeviceID); err != nil {
		return ContactResponse{}, err
	}
	switch {
	case req.ContactID != "":
		return ContactResponse{ContactID: req.ContactID}, c.svc.AddContact(ctx, req.DeviceID, req.ContactID)
	case req.Number != "":
		id, err := c.svc.AddContactByNumber(ctx, req.DeviceID, req.Number)
		return ContactResponse{ContactID: id}, err
	default:
		return ContactResponse{}, grpcstatus.Error(codes.InvalidArgument, "contactId or number is required")
	}
}

func (c *Control) RemoveContact(ctx context.Context, req ContactRequest) (Empty, error) {
	if err := required("deviceId", req.DeviceID, "contactId", req.ContactID); err != nil {
		return Empty{}, err
	}
	return Empty{}, c.svc.RemoveContact(ctx, req.DeviceID, req.ContactID)
}

func (c *Control) SetMute(_ context.Context, req MuteRequest) (MuteResponse, error) {
	if err := required("deviceId", req.DeviceID, "contactId", req.ContactID); err != nil {
		return MuteResponse{}, err
	}
	if req.Toggle {
		muted, err := c.svc.ToggleMute(req.DeviceID, req.ContactID)
		return MuteResponse{Muted: muted}, err
	}
	return MuteResponse{Muted: req.Muted}, c.svc.SetMuted(req.DeviceID, req.ContactID, req.Muted)
}
