package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	m.RecordAPIRequest(ctx, "/variation/propose", 200, 5*time.Millisecond)
	m.RecordAPIRequest(ctx, "/variation/propose", 200, 5*time.Millisecond)
	m.RecordProposal(ctx, OutcomeOK)
	m.RecordGeneration(ctx, "arranger", time.Second, OutcomeDiscarded)
	m.RecordTokenUsage(ctx, "gpt-5-mini", llm.Usage{InputTokens: 10, OutputTokens: 4})
	m.RecordCommit(ctx, OutcomeConflict, 0)
	m.RecordDiscard(ctx, OutcomeOK)
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.apiRequests.WithLabelValues("/variation/propose", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proposals.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("arranger", OutcomeDiscarded)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.tokens.WithLabelValues("gpt-5-mini", "input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discards.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openStreams))
}

type countingRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingRecorder) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *countingRecorder) RecordAPIRequest(context.Context, string, int, time.Duration) {
	c.add("api")
}
func (c *countingRecorder) RecordProposal(context.Context, string) { c.add("propose") }
func (c *countingRecorder) RecordGeneration(context.Context, string, time.Duration, string) {
	c.add("generation")
}
func (c *countingRecorder) RecordTokenUsage(context.Context, string, llm.Usage) { c.add("tokens") }
func (c *countingRecorder) RecordPhrases(context.Context, int)                  { c.add("phrases") }
func (c *countingRecorder) RecordCommit(context.Context, string, int)           { c.add("commit") }
func (c *countingRecorder) RecordDiscard(context.Context, string)               { c.add("discard") }
func (c *countingRecorder) StreamOpened()                                       { c.add("open") }
func (c *countingRecorder) StreamClosed()                                       { c.add("close") }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	m := Multi{a, b, NewSentryMetrics(false)}
	ctx := context.Background()

	m.RecordProposal(ctx, OutcomeOK)
	m.RecordCommit(ctx, OutcomeOK, 2)
	m.StreamOpened()
	m.StreamClosed()

	want := []string{"propose", "commit", "open", "close"}
	assert.Equal(t, want, a.calls)
	assert.Equal(t, want, b.calls)
}

type fakePutter struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakePutter) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchClient(t *testing.T) {
	c, err := NewClient(context.Background(), "development")
	require.NoError(t, err)
	assert.False(t, c.enabled)
	// disabled clients never touch AWS
	c.RecordProposal(context.Background(), OutcomeOK)

	putter := &fakePutter{}
	c = &Client{client: putter, enabled: true, environment: "production"}
	require.NoError(t, c.putMetric(context.Background(), "Commits", 1, "Count", nil))
	require.Len(t, putter.inputs, 1)
	assert.Equal(t, namespace, *putter.inputs[0].Namespace)
	assert.Equal(t, "Commits", *putter.inputs[0].MetricData[0].MetricName)
}
