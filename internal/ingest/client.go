package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/ingest/vectorpb"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/metrics"
)

var fast = jsoniter.ConfigCompatibleWithStandardLibrary

// Client forwards events to a downstream Vector instance over the same gRPC
// protocol the listener speaks. Delivery is best-effort; failures are logged
// and counted, never retried here.
type Client struct {
	cc  *grpc.ClientConn
	vc  vectorpb.VectorClient
	log *logging.Logger
}

// Dial connects to target and verifies liveness with a health check.
func Dial(ctx context.Context, target string, log *logging.Logger) (*Client, error) {
	cc, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c := &Client{
		cc:  cc,
		vc:  vectorpb.NewVectorClient(cc),
		log: log.With(logging.Component("output")),
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.vc.HealthCheck(pingCtx, &vectorpb.HealthCheckRequest{}); err != nil {
		cc.Close()
		return nil, err
	}
	return c, nil
}

// Push forwards one batch of events, envelope metadata included so the
// downstream instance sees the same logsource taxonomy.
func (c *Client) Push(ctx context.Context, events []*event.Event) error {
	raws := make([]jsoniter.RawMessage, 0, len(events))
	metas := make([]jsoniter.RawMessage, 0, len(events))
	for _, ev := range events {
		raw, err := fast.Marshal(ev.Data)
		if err != nil {
			return err
		}
		meta, err := fast.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
		metas = append(metas, meta)
	}
	_, err := c.vc.PushEvents(ctx, &vectorpb.EventRequest{
		Events:    raws,
		Metadata:  metas,
		RequestID: uuid.NewString(),
	})
	return err
}

// Run forwards batches from ch until it closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context, ch <-chan []*event.Event) {
	defer c.cc.Close()
	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				return
			}
			if err := c.Push(ctx, batch); err != nil {
				metrics.WebhookErrors.Inc()
				c.log.Warn("forward failed", logging.Error(err), logging.Count(len(batch)))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.cc.Close()
}
