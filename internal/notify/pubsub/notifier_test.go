package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/mediafetch/internal/download"
)

const topicName = "projects/test-project/topics/downloads"

func newTestPublisher(t *testing.T) (*pstest.Server, *pubsub.Publisher) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)

	return srv, client.Publisher(topicName)
}

func TestNotifyPublishesJSON(t *testing.T) {
	t.Parallel()

	srv, publisher := newTestPublisher(t)
	n := New(publisher, nil)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	n.Notify(context.Background(), download.Notification{
		Kind:     download.NotifyFailed,
		JobID:    "job-7",
		URL:      "https://cdn.test/a.jpg",
		Filename: "a.jpg",
		Error:    "NETWORK_FAILED",
		At:       at,
	})
	n.Close()

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "failed", msgs[0].Attributes["kind"])
	require.Equal(t, "job-7", msgs[0].Attributes["job_id"])

	var got download.Notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "job-7", got.JobID)
	require.Equal(t, "NETWORK_FAILED", got.Error)
	require.True(t, at.Equal(got.At))
}

func TestCarrierInjectsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	carrier := &pubsubCarrier{attrs: map[string]string{}}
	propagation.TraceContext{}.Inject(ctx, carrier)

	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	require.Contains(t, carrier.Keys(), "traceparent")
}
