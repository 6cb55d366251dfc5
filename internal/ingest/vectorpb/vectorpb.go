// Package vectorpb declares the wire surface of the Vector sink protocol as
// consumed by StrIEM: the Vector service with its PushEvents and HealthCheck
// methods. Events travel as JSON-encoded dynamic values, so the service is
// registered with a JSON message codec instead of generated protobuf
// bindings; clients select it via the "json" content subtype.
package vectorpb

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vector.Vector"

// CodecName is the content subtype clients pass to reach this service.
const CodecName = "json"

// ServingStatus mirrors the Vector health check enum.
type ServingStatus int32

const (
	StatusUnknown    ServingStatus = 0
	StatusServing    ServingStatus = 1
	StatusNotServing ServingStatus = 2
)

// EventRequest is a batch of JSON-encoded events plus a client-generated
// request id. The request id is trace-only; retries with the same id are not
// deduplicated.
//
// Metadata is the collector's event metadata channel, index-aligned with
// Events: entry i holds the %-namespaced values (Sigma logsource, source id)
// attached to event i. It may be absent or shorter than Events; missing
// entries simply leave those events without wire metadata.
type EventRequest struct {
	Events    []jsoniter.RawMessage `json:"events"`
	Metadata  []jsoniter.RawMessage `json:"metadata,omitempty"`
	RequestID string                `json:"request_id"`
}

// EventResponse acknowledges a batch after all sinks accepted it.
type EventResponse struct {
	RequestID string `json:"request_id"`
}

// HealthCheckRequest probes server liveness.
type HealthCheckRequest struct{}

// HealthCheckResponse reports serving state.
type HealthCheckResponse struct {
	Status ServingStatus `json:"status"`
}

// VectorServer is the server contract for the Vector service.
type VectorServer interface {
	PushEvents(context.Context, *EventRequest) (*EventResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

// VectorClient calls the Vector service over an established connection.
type VectorClient interface {
	PushEvents(ctx context.Context, in *EventRequest, opts ...grpc.CallOption) (*EventResponse, error)
	HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error)
}

type vectorClient struct {
	cc grpc.ClientConnInterface
}

// NewVectorClient wraps a client connection. The JSON codec is forced on
// every call so no proto message types are involved.
func NewVectorClient(cc grpc.ClientConnInterface) VectorClient {
	return &vectorClient{cc: cc}
}

func (c *vectorClient) PushEvents(ctx context.Context, in *EventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	out := new(EventResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/PushEvents", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vectorClient) HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/HealthCheck", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterVectorServer registers the service implementation.
func RegisterVectorServer(s grpc.ServiceRegistrar, srv VectorServer) {
	s.RegisterService(&Vector_ServiceDesc, srv)
}

func pushEventsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorServer).PushEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/PushEvents",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorServer).PushEvents(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/HealthCheck",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorServer).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Vector_ServiceDesc is the service descriptor for registration.
var Vector_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PushEvents", Handler: pushEventsHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// codec marshals service messages as JSON.
type codec struct{}

var fast = jsoniter.ConfigCompatibleWithStandardLibrary

func (codec) Marshal(v any) ([]byte, error) {
	return fast.Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := fast.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: %w", err)
	}
	return nil
}

func (codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(codec{})
}
