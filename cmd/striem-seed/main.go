// striem-seed generates synthetic OCSF events and pushes them into a running
// StrIEM instance over the Vector gRPC protocol. Useful for exercising
// detections and storage without a collector deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/striemhq/striem/internal/ingest/vectorpb"
)

var (
	addr       = flag.String("addr", "127.0.0.1:6000", "StrIEM ingest gRPC address")
	count      = flag.Int("count", 100, "Number of events to generate")
	interval   = flag.Duration("interval", 100*time.Millisecond, "Interval between batches")
	eventTypes = flag.String("types", "auth,network,process", "Comma-separated list of event types")
	timeSpread = flag.Duration("time-spread", 24*time.Hour, "Spread events over this time period (0 for real-time)")
	batchSize  = flag.Int("batch-size", 10, "Number of events per batch")
)

func main() {
	flag.Parse()

	gofakeit.Seed(time.Now().UnixNano())

	log.Printf("Starting event seeder:")
	log.Printf("  Address: %s", *addr)
	log.Printf("  Event count: %d", *count)
	log.Printf("  Batch size: %d", *batchSize)
	log.Printf("  Time spread: %v", *timeSpread)

	types := strings.Split(*eventTypes, ",")
	log.Printf("  Event types: %v", types)

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer cc.Close()
	client := vectorpb.NewVectorClient(cc)

	ctx := context.Background()
	if _, err := client.HealthCheck(ctx, &vectorpb.HealthCheckRequest{}); err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	successCount := 0
	failCount := 0

	batch := make([]jsoniter.RawMessage, 0, *batchSize)
	metaBatch := make([]jsoniter.RawMessage, 0, *batchSize)
	for i := 0; i < *count; i++ {
		eventType := types[rand.Intn(len(types))]
		raw, err := json.Marshal(generateEvent(eventType))
		if err != nil {
			log.Fatalf("Failed to marshal event: %v", err)
		}
		meta, err := json.Marshal(map[string]any{"logsource": logsourceFor(eventType)})
		if err != nil {
			log.Fatalf("Failed to marshal metadata: %v", err)
		}
		batch = append(batch, raw)
		metaBatch = append(metaBatch, meta)

		if len(batch) >= *batchSize || i == *count-1 {
			req := &vectorpb.EventRequest{Events: batch, Metadata: metaBatch, RequestID: uuid.NewString()}
			if _, err := client.PushEvents(ctx, req); err != nil {
				log.Printf("Failed to send batch: %v", err)
				failCount += len(batch)
			} else {
				successCount += len(batch)
				if successCount%50 == 0 {
					log.Printf("Progress: %d/%d events sent", successCount, *count)
				}
			}
			batch = batch[:0]
			metaBatch = metaBatch[:0]
			if *interval > 0 && i < *count-1 {
				time.Sleep(*interval)
			}
		}
	}

	log.Printf("Seeding complete:")
	log.Printf("  Success: %d events", successCount)
	log.Printf("  Failed: %d events", failCount)
}

func eventTime() int64 {
	now := time.Now()
	if *timeSpread > 0 {
		now = now.Add(-time.Duration(rand.Int63n(int64(*timeSpread))))
	}
	return now.UnixMilli()
}

func generateEvent(eventType string) map[string]any {
	switch eventType {
	case "network":
		return generateNetworkEvent()
	case "process":
		return generateProcessEvent()
	default:
		return generateAuthEvent()
	}
}

// logsourceFor mirrors the taxonomy the collector's logsource transforms
// stamp on the metadata channel.
func logsourceFor(eventType string) map[string]any {
	switch eventType {
	case "network":
		return map[string]any{"category": "network_connection", "product": "striem"}
	case "process":
		return map[string]any{"category": "process_creation", "product": "striem"}
	default:
		return map[string]any{"product": "aws", "service": "cloudtrail"}
	}
}

func generateAuthEvent() map[string]any {
	statusID := 1
	if rand.Intn(10) == 0 {
		statusID = 2
	}
	return map[string]any{
		"class_uid":    3002,
		"category_uid": 3,
		"activity_id":  1,
		"time":         eventTime(),
		"status_id":    statusID,
		"user": map[string]any{
			"name": gofakeit.Username(),
		},
		"src_endpoint": map[string]any{
			"ip": gofakeit.IPv4Address(),
		},
		"metadata": map[string]any{
			"uid": uuid.NewString(),
			"product": map[string]any{
				"vendor_name": "AWS",
				"name":        "CloudTrail",
			},
		},
	}
}

func generateNetworkEvent() map[string]any {
	return map[string]any{
		"class_uid":    4001,
		"category_uid": 4,
		"activity_id":  1,
		"time":         eventTime(),
		"src_endpoint": map[string]any{
			"ip":   gofakeit.IPv4Address(),
			"port": gofakeit.Number(1024, 65535),
		},
		"dst_endpoint": map[string]any{
			"ip":   gofakeit.IPv4Address(),
			"port": gofakeit.Number(1, 1024),
		},
		"metadata": map[string]any{
			"uid": uuid.NewString(),
			"product": map[string]any{
				"vendor_name": "StrIEM",
				"name":        "seeder",
			},
		},
	}
}

func generateProcessEvent() map[string]any {
	return map[string]any{
		"class_uid":    1007,
		"category_uid": 1,
		"activity_id":  1,
		"time":         eventTime(),
		"process": map[string]any{
			"name":     gofakeit.AppName(),
			"pid":      gofakeit.Number(100, 65535),
			"cmd_line": gofakeit.Sentence(4),
			"user": map[string]any{
				"name": gofakeit.Username(),
			},
		},
		"metadata": map[string]any{
			"uid": uuid.NewString(),
			"product": map[string]any{
				"vendor_name": "StrIEM",
				"name":        "seeder",
			},
		},
	}
}
