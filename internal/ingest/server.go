// Package ingest implements the Vector-protocol gRPC listener that feeds the
// pipeline, and the outbound sinks findings are forwarded to.
package ingest

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/ingest/vectorpb"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/metrics"
)

// DefaultAdmissionDeadline bounds how long a batch may wait for queue space
// before the upstream pipeline is told to back off.
const DefaultAdmissionDeadline = 5 * time.Second

// Server receives framed event batches, decodes them to canonical events and
// fans them out to the detection and storage queues. Acks are returned only
// after every sink accepted the batch, giving at-least-once semantics
// end-to-end; duplicates on retry are not deduplicated here.
type Server struct {
	log      *logging.Logger
	deadline time.Duration
	detect   chan<- []*event.Event
	store    chan<- []*event.Event
	draining atomic.Bool

	grpcServer *grpc.Server
}

// NewServer wires the listener in front of the two sink queues.
func NewServer(detect, store chan<- []*event.Event, deadline time.Duration, log *logging.Logger) *Server {
	if deadline <= 0 {
		deadline = DefaultAdmissionDeadline
	}
	return &Server{
		log:      log.With(logging.Component("ingest")),
		deadline: deadline,
		detect:   detect,
		store:    store,
	}
}

// PushEvents implements vectorpb.VectorServer.
func (s *Server) PushEvents(ctx context.Context, req *vectorpb.EventRequest) (*vectorpb.EventResponse, error) {
	if s.draining.Load() {
		metrics.BatchesReceived.WithLabelValues("unavailable").Inc()
		return nil, status.Error(codes.Unavailable, "shutting down")
	}
	resp := &vectorpb.EventResponse{RequestID: req.RequestID}
	if len(req.Events) == 0 {
		metrics.BatchesReceived.WithLabelValues("ok").Inc()
		return resp, nil
	}

	// decode the whole batch first; one bad event rejects the batch
	// atomically so upstream can retry or drop it as a unit
	batch := make([]*event.Event, 0, len(req.Events))
	for i, raw := range req.Events {
		ev, err := event.Decode(raw)
		if err != nil {
			metrics.BatchesReceived.WithLabelValues("invalid").Inc()
			metrics.EventsReceived.WithLabelValues("invalid").Add(float64(len(req.Events)))
			return nil, status.Errorf(codes.InvalidArgument, "event at offset %d: %v", i, err)
		}
		if i < len(req.Metadata) {
			if err := ev.MergeWireMetadata(req.Metadata[i]); err != nil {
				metrics.BatchesReceived.WithLabelValues("invalid").Inc()
				metrics.EventsReceived.WithLabelValues("invalid").Add(float64(len(req.Events)))
				return nil, status.Errorf(codes.InvalidArgument, "metadata at offset %d: %v", i, err)
			}
		}
		batch = append(batch, ev)
	}

	// one deadline spans both enqueues
	timer := time.NewTimer(s.deadline)
	defer timer.Stop()
	for _, sink := range []chan<- []*event.Event{s.detect, s.store} {
		select {
		case sink <- batch:
		case <-timer.C:
			metrics.BatchesReceived.WithLabelValues("exhausted").Inc()
			return nil, status.Error(codes.ResourceExhausted, "pipeline queues full")
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}

	metrics.BatchesReceived.WithLabelValues("ok").Inc()
	metrics.EventsReceived.WithLabelValues("ok").Add(float64(len(batch)))
	metrics.QueueDepth.WithLabelValues("detect").Set(float64(len(s.detect)))
	metrics.QueueDepth.WithLabelValues("storage").Set(float64(len(s.store)))
	s.log.Debug("accepted batch", logging.RequestID(req.RequestID), logging.Count(len(batch)))
	return resp, nil
}

// HealthCheck implements vectorpb.VectorServer.
func (s *Server) HealthCheck(ctx context.Context, _ *vectorpb.HealthCheckRequest) (*vectorpb.HealthCheckResponse, error) {
	if s.draining.Load() {
		return &vectorpb.HealthCheckResponse{Status: vectorpb.StatusNotServing}, nil
	}
	return &vectorpb.HealthCheckResponse{Status: vectorpb.StatusServing}, nil
}

// Serve listens on addr until ctx is cancelled, then drains: new batches are
// refused immediately while in-flight ones get until drainDeadline to
// complete.
func (s *Server) Serve(ctx context.Context, addr string, drainDeadline time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.grpcServer = grpc.NewServer()
	vectorpb.RegisterVectorServer(s.grpcServer, s)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()
	s.log.Info("listening for collector events", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.draining.Store(true)
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainDeadline):
		s.log.Warn("drain deadline exceeded, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}
