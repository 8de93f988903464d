package relay

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Metadata keys carrying the caller's identity.
const (
	MetadataUserID = "x-user-id"
	MetadataRole   = "x-role"

	RoleCoordinator = "coordinator"
	RoleParticipant = "participant"
)

// ConnectMethod is the full method name of the relay stream.
const ConnectMethod = "/meshphone.relay.v1.Relay/Connect"

type (
	connectServerStream = grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]
	connectClientStream = grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue]
)

// RelayServer is implemented by Hub.
type RelayServer interface {
	Connect(connectServerStream) error
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Connect(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// ServiceDesc describes the relay service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meshphone.relay.v1.Relay",
	HandlerType: (*RelayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "meshphone/relay/v1/relay.proto",
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}
