package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/ingest/vectorpb"
	"github.com/striemhq/striem/internal/logging"
)

type testEnv struct {
	client vectorpb.VectorClient
	detect chan []*event.Event
	store  chan []*event.Event
	server *Server
}

func newTestEnv(t *testing.T, queue int, deadline time.Duration) *testEnv {
	t.Helper()
	detect := make(chan []*event.Event, queue)
	store := make(chan []*event.Event, queue)
	srv := NewServer(detect, store, deadline, logging.Default())

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	vectorpb.RegisterVectorServer(gs, srv)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })

	return &testEnv{
		client: vectorpb.NewVectorClient(cc),
		detect: detect,
		store:  store,
		server: srv,
	}
}

func rawEvents(docs ...string) []jsoniter.RawMessage {
	out := make([]jsoniter.RawMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, jsoniter.RawMessage(d))
	}
	return out
}

func TestPushEventsFansOutToBothSinks(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)
	ctx := context.Background()

	resp, err := env.client.PushEvents(ctx, &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 3002, "activity_id": 1}`, `{"class_uid": 4001}`),
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)

	detectBatch := <-env.detect
	storeBatch := <-env.store
	require.Len(t, detectBatch, 2)
	require.Len(t, storeBatch, 2)

	// within a batch, order is preserved for each sink
	uid, ok := detectBatch[0].ClassUID()
	require.True(t, ok)
	assert.Equal(t, int64(3002), uid)
	uid, ok = storeBatch[1].ClassUID()
	require.True(t, ok)
	assert.Equal(t, int64(4001), uid)
}

func TestMetadataChannelReachesSinks(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)

	_, err := env.client.PushEvents(context.Background(), &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 1007}`, `{"class_uid": 3002}`),
		Metadata:  rawEvents(`{"logsource": {"category": "process_creation", "product": "windows"}}`),
		RequestID: "meta-1",
	})
	require.NoError(t, err)

	batch := <-env.detect
	require.Len(t, batch, 2)

	ls := batch[0].Logsource()
	assert.Equal(t, "process_creation", ls.Category)
	assert.Equal(t, "windows", ls.Product)

	// the metadata channel may be shorter than the event list
	assert.Equal(t, "", batch[1].Logsource().Category)
}

func TestInvalidMetadataRejectsBatchAtomically(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)

	_, err := env.client.PushEvents(context.Background(), &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 3002}`),
		Metadata:  rawEvents(`[1, 2]`),
		RequestID: "meta-2",
	})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Contains(t, st.Message(), "metadata at offset 0")
	assert.Empty(t, env.detect)
	assert.Empty(t, env.store)
}

func TestEmptyBatchIsOKWithNoSideEffects(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)

	resp, err := env.client.PushEvents(context.Background(), &vectorpb.EventRequest{RequestID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, "empty", resp.RequestID)
	assert.Empty(t, env.detect)
	assert.Empty(t, env.store)
}

func TestDecodeFailureRejectsBatchAtomically(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)

	_, err := env.client.PushEvents(context.Background(), &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 3002}`, `{broken`),
		RequestID: "req-2",
	})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	// the failing offset is named
	assert.Contains(t, st.Message(), "offset 1")
	// zero events delivered
	assert.Empty(t, env.detect)
	assert.Empty(t, env.store)
}

func TestBackpressureReturnsResourceExhausted(t *testing.T) {
	env := newTestEnv(t, 1, 100*time.Millisecond)
	ctx := context.Background()

	// fill both queues
	_, err := env.client.PushEvents(ctx, &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 1}`),
		RequestID: "fill",
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = env.client.PushEvents(ctx, &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 2}`),
		RequestID: "overflow",
	})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRepeatedRequestIDIsNotDeduplicated(t *testing.T) {
	// request_id is trace-only: retries redeliver and duplicates are the
	// documented at-least-once behavior
	env := newTestEnv(t, 8, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.client.PushEvents(ctx, &vectorpb.EventRequest{
			Events:    rawEvents(`{"class_uid": 3002}`),
			RequestID: "same-id",
		})
		require.NoError(t, err)
	}
	assert.Len(t, env.detect, 2)
	assert.Len(t, env.store, 2)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)

	resp, err := env.client.HealthCheck(context.Background(), &vectorpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, vectorpb.StatusServing, resp.Status)

	env.server.draining.Store(true)
	resp, err = env.client.HealthCheck(context.Background(), &vectorpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, vectorpb.StatusNotServing, resp.Status)
}

func TestUnavailableWhileDraining(t *testing.T) {
	env := newTestEnv(t, 4, time.Second)
	env.server.draining.Store(true)

	_, err := env.client.PushEvents(context.Background(), &vectorpb.EventRequest{
		Events:    rawEvents(`{"class_uid": 1}`),
		RequestID: "late",
	})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unavailable, st.Code())
}
