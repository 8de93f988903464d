package api

import (
	"context"
)

func (c *Control) RegisterDevice(ctx context.Context, req DeviceRequest) (DeviceInfo, error) {
	owner := req.Owner
	if owner == "" {
		owner = c.svc.Self().UserID
	}
	if err := required("source", req.Source); err != nil {
		return DeviceInfo{}, err
	}
	d, err := c.svc.RegisterDevice(ctx, owner, req.Source, req.Label)
	if err != nil {
		return DeviceInfo{}, err
	}
	return c.deviceInfo(ctx, d.ID)
}

func (c *Control) RemoveDevice(ctx context.Context, req DeviceRequest) (Empty, error) {
	if err := required("deviceId", req.DeviceID); err != nil {
		return Empty{}, err
	}
	return Empty{}, c.svc.RemoveDevice(ctx, req.DeviceID)
}

func (c *Control) OpenDevice(ctx context.Context, req DeviceRequest) (OpenResponse, error) {
	if err := required("deviceId", req.DeviceID); err != nil {
		return OpenResponse{}, err
	}
	id, err := c.svc.OpenDevice(ctx, req.DeviceID)
	return OpenResponse{SyncRequestID: id}, err
}

func (c *Control) Devices(ctx context.Context, _ Empty) (DevicesResponse, error) {
	var resp DevicesResponse
	for _, d := range c.svc.Devices() {
		if d.IsStub() {
			continue
		}
		info, err := c.deviceInfo(ctx, d.ID)
		if err != nil {
			return DevicesResponse{}, err
		}
		resp.Devices = append(resp.Devices, info)
	}
	return resp, nil
}

func (c *Control) LookupPhoneNumber(ctx context.Context, req LookupRequest) (DeviceInfo, error) {
	if err := required("number", req.Number); err != nil {
		return DeviceInfo{}, err
	}
	id, err := c.svc.LookupPhoneNumber(req.Number)
	if err != nil {
		return DeviceInfo{}, err
	}
	return c.deviceInfo(ctx, id)
}

func (c *Control) deviceInfo(ctx context.Context, id string) (DeviceInfo, error) {
	d, err := c.svc.Device(id)
	if err != nil {
		return DeviceInfo{}, err
	}
	number, err := c.svc.PhoneNumber(ctx, id)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{Device: d, PhoneNumber: number, Local: c.svc.HasLocalAccess(id)}, nil
}
