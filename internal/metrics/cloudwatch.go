package metrics

import (
	"context"
	"log"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	namespace                = "MAGDA/Variations"
	httpStatusServerError    = 500
	cloudwatchTimeoutSeconds = 5
)

// metricPutter is the slice of the CloudWatch API the client uses
type metricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Client wraps CloudWatch client for custom metrics
type Client struct {
	client      metricPutter
	enabled     bool
	environment string
}

// NewClient creates a new CloudWatch metrics client
func NewClient(ctx context.Context, environment string) (*Client, error) {
	// Only enable in production
	if environment != "production" {
		log.Printf("📊 CloudWatch Metrics: DISABLED (environment: %s)", environment)
		return &Client{
			enabled:     false,
			environment: environment,
		}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to load AWS config for CloudWatch: %v", err)
		return &Client{enabled: false, environment: environment}, nil
	}

	log.Printf("📊 CloudWatch Metrics: ✅ ENABLED (namespace: %s)", namespace)
	return &Client{
		client:      cloudwatch.NewFromConfig(cfg),
		enabled:     true,
		environment: environment,
	}, nil
}

func (m *Client) envDimension() types.Dimension {
	return types.Dimension{Name: aws.String("Environment"), Value: aws.String(m.environment)}
}

func dimension(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// RecordAPIRequest records an API request metric
func (m *Client) RecordAPIRequest(_ context.Context, endpoint string, statusCode int, duration time.Duration) {
	if !m.enabled {
		return
	}

	go func() {
		metricName := "APIRequests"
		if statusCode >= httpStatusServerError {
			metricName = "APIErrors"
		}
		dims := []types.Dimension{dimension("Endpoint", endpoint), m.envDimension()}

		m.put(metricName, 1, types.StandardUnitCount, dims)
		m.put("APILatency", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dims)
	}()
}

// RecordProposal counts propose calls by outcome
func (m *Client) RecordProposal(_ context.Context, outcome string) {
	if !m.enabled {
		return
	}
	go m.put("Proposals", 1, types.StandardUnitCount, []types.Dimension{dimension("Outcome", outcome), m.envDimension()})
}

// RecordGeneration records generation task duration
func (m *Client) RecordGeneration(_ context.Context, generator string, duration time.Duration, outcome string) {
	if !m.enabled {
		return
	}

	go func() {
		dims := []types.Dimension{
			dimension("Generator", generator),
			dimension("Outcome", outcome),
			m.envDimension(),
		}
		m.put("GenerationDuration", float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dims)
	}()
}

// RecordTokenUsage records LLM token usage
func (m *Client) RecordTokenUsage(_ context.Context, model string, usage llm.Usage) {
	if !m.enabled {
		return
	}

	go func() {
		dims := []types.Dimension{dimension("Model", model), m.envDimension()}
		m.put("LLMTokens/Total", float64(usage.TotalTokens), types.StandardUnitCount, dims)
		m.put("LLMTokens/Input", float64(usage.InputTokens), types.StandardUnitCount, dims)
		m.put("LLMTokens/Output", float64(usage.OutputTokens), types.StandardUnitCount, dims)
		// Reasoning tokens only exist for GPT-5 style models
		if usage.ReasoningTokens > 0 {
			m.put("LLMTokens/Reasoning", float64(usage.ReasoningTokens), types.StandardUnitCount, dims)
		}
	}()
}

// RecordPhrases records how many phrases a ready variation produced
func (m *Client) RecordPhrases(_ context.Context, count int) {
	if !m.enabled {
		return
	}
	go m.put("PhrasesPerVariation", float64(count), types.StandardUnitCount, []types.Dimension{m.envDimension()})
}

// RecordCommit counts commit calls by outcome
func (m *Client) RecordCommit(_ context.Context, outcome string, phrases int) {
	if !m.enabled {
		return
	}

	go func() {
		dims := []types.Dimension{dimension("Outcome", outcome), m.envDimension()}
		m.put("Commits", 1, types.StandardUnitCount, dims)
		if phrases > 0 {
			m.put("CommittedPhrases", float64(phrases), types.StandardUnitCount, dims)
		}
	}()
}

// RecordDiscard counts discard calls by outcome
func (m *Client) RecordDiscard(_ context.Context, outcome string) {
	if !m.enabled {
		return
	}
	go m.put("Discards", 1, types.StandardUnitCount, []types.Dimension{dimension("Outcome", outcome), m.envDimension()})
}

// StreamOpened is not tracked in CloudWatch
func (m *Client) StreamOpened() {}

func (m *Client) StreamClosed() {}

func (m *Client) put(metricName string, value float64, unit types.StandardUnit, dimensions []types.Dimension) {
	if err := m.putMetric(context.Background(), metricName, value, unit, dimensions); err != nil {
		log.Printf("Failed to record %s metric: %v", metricName, err)
	}
}

// putMetric sends a metric to CloudWatch
func (m *Client) putMetric(
	ctx context.Context,
	metricName string,
	value float64,
	unit types.StandardUnit,
	dimensions []types.Dimension,
) error {
	if !m.enabled || m.client == nil {
		return nil
	}

	cwCtx, cancel := context.WithTimeout(ctx, cloudwatchTimeoutSeconds*time.Second)
	defer cancel()

	_, err := m.client.PutMetricData(cwCtx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metricName),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: dimensions,
			},
		},
	})

	return err
}
