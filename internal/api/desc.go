// Package api is the local control surface of a client daemon: a gRPC
// service on the session's unix socket, used by meshctl.
//
// Requests and responses are JSON documents carried in
// wrapperspb.BytesValue, so the service is described by hand.
package api

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/service"
)

const serviceName = "meshphone.control.v1.Control"

// Method names.
const (
	MethodStatus               = "Status"
	MethodRegisterDevice       = "RegisterDevice"
	MethodRemoveDevice         = "RemoveDevice"
	MethodOpenDevice           = "OpenDevice"
	MethodDevices              = "Devices"
	MethodLookupPhoneNumber    = "LookupPhoneNumber"
	MethodSendMessage          = "SendMessage"
	MethodConversation         = "Conversation"
	MethodMarkRead             = "MarkRead"
	MethodClearHistory         = "ClearHistory"
	MethodDeleteMessages       = "DeleteMessages"
	MethodContacts             = "Contacts"
	MethodAddContact           = "AddContact"
	MethodRemoveContact        = "RemoveContact"
	MethodSetMute              = "SetMute"
	MethodWorld                = "World"
	MethodRequestWorldSnapshot = "RequestWorldSnapshot"
	MethodWatchEvents          = "WatchEvents"
)

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unary adapts a typed handler to grpc.MethodHandler.
func unary[Req, Resp any](name string, call func(*Control, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.BytesValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				var r Req
				if raw := req.(*wrapperspb.BytesValue).GetValue(); len(raw) > 0 {
					if err := json.Unmarshal(raw, &r); err != nil {
						return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
					}
				}
				resp, err := call(srv.(*Control), ctx, r)
				if err != nil {
					return nil, toStatus(err)
				}
				out, err := json.Marshal(resp)
				if err != nil {
					return nil, grpcstatus.Errorf(codes.Internal, "encode %s response: %v", name, err)
				}
				return wrapperspb.Bytes(out), nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}, handler)
		},
	}
}

// ServiceDesc describes the control service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, (*Control).Status),
		unary(MethodRegisterDevice, (*Control).RegisterDevice),
		unary(MethodRemoveDevice, (*Control).RemoveDevice),
		unary(MethodOpenDevice, (*Control).OpenDevice),
		unary(MethodDevices, (*Control).Devices),
		unary(MethodLookupPhoneNumber, (*Control).LookupPhoneNumber),
		unary(MethodSendMessage, (*Control).SendMessage),
		unary(MethodConversation, (*Control).Conversation),
		unary(MethodMarkRead, (*Control).MarkRead),
		unary(MethodClearHistory, (*Control).ClearHistory),
		unary(MethodDeleteMessages, (*Control).DeleteMessages),
		unary(MethodContacts, (*Control).Contacts),
		unary(MethodAddContact, (*Control).AddContact),
		unary(MethodRemoveContact, (*Control).RemoveContact),
		unary(MethodSetMute, (*Control).SetMute),
		unary(MethodWorld, (*Control).World),
		unary(MethodRequestWorldSnapshot, (*Control).RequestWorldSnapshot),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "meshphone/control/v1/control.proto",
}

// Register registers c on s.
func Register(s grpc.ServiceRegistrar, c *Control) {
	s.RegisterService(&ServiceDesc, c)
}

func toStatus(err error) error {
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, service.ErrNoContactFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrUnauthorizedWrite):
		code = codes.PermissionDenied
	case errors.Is(err, service.ErrNoLocalAccess):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrTransportUnavailable):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrDuplicateEntity):
		code = codes.AlreadyExists
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Error(code, err.Error())
}
