package peersync

import (
	"context"

	"google.golang.org/grpc"
)

// The declarations in this file stand in for what protoc-gen-go-grpc
// would normally generate from a .proto service definition — a service
// descriptor, a server interface, and a thin client — hand-written
// because protoc is unavailable here (see package doc). Shape and
// naming follow the generated-code convention exactly so the rest of
// this package reads the way it would against real generated stubs.

const serviceName = "peersync.PeerSync"

// PeerSyncServer is the service contract ShareStats implements.
type PeerSyncServer interface {
	ShareStats(ctx context.Context, env *StatsEnvelope) (*AckResponse, error)
}

// RegisterPeerSyncServer registers srv against s using the hand-written
// service descriptor below.
func RegisterPeerSyncServer(s grpc.ServiceRegistrar, srv PeerSyncServer) {
	s.RegisterService(&peerSyncServiceDesc, srv)
}

func shareStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatsEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerSyncServer).ShareStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ShareStats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerSyncServer).ShareStats(ctx, req.(*StatsEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}

var peerSyncServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PeerSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ShareStats", Handler: shareStatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peersync",
}

// PeerSyncClient is the client-side stub for PeerSyncServer.
type PeerSyncClient interface {
	ShareStats(ctx context.Context, env *StatsEnvelope, opts ...grpc.CallOption) (*AckResponse, error)
}

type peerSyncClient struct {
	cc grpc.ClientConnInterface
}

// NewPeerSyncClient wraps an established connection as a PeerSyncClient.
func NewPeerSyncClient(cc grpc.ClientConnInterface) PeerSyncClient {
	return &peerSyncClient{cc: cc}
}

func (c *peerSyncClient) ShareStats(ctx context.Context, env *StatsEnvelope, opts ...grpc.CallOption) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ShareStats", env, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
