package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

const testProject = "registry-test"

func newTestPublisher(t *testing.T, topicID string) (*Publisher, *pstest.Server) {
	t.Helper()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/" + testProject + "/topics/" + topicID})
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, testProject,
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	pub := New(client.Publisher(topicID))
	t.Cleanup(pub.Stop)
	return pub, srv
}

func TestPublishNotice(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t, "notices")
	notice := crawler.JobNotice{JobID: "job-1", Query: "acme", Jurisdiction: "gb", Status: crawler.JobStatusCompleted, Entities: 3}

	id, err := pub.Publish(context.Background(), "ignored", notice)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	require.Equal(t, "completed", msgs[0].Attributes["status"])

	var got crawler.JobNotice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, notice.JobID, got.JobID)
	require.Equal(t, 3, got.Entities)
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "jobs", "x")
	require.Error(t, err)
}

func TestPublishUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t, "bad-payload")
	_, err := pub.Publish(context.Background(), "jobs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestCarrierRoundTripsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	carrier := &pubsubCarrier{attrs: map[string]string{}}
	prop.Inject(ctx, carrier)
	require.Contains(t, carrier.Keys(), "traceparent")

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), carrier))
	require.Equal(t, traceID, extracted.TraceID())
	require.Equal(t, spanID, extracted.SpanID())
}
