package push

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"classifieds/internal/types"
)

// Delivery results recorded as the Result dimension.
const (
	ResultDelivered = "delivered"
	ResultPruned    = "pruned"
	ResultFailed    = "failed"
)

// Metrics records per-device delivery outcomes.
type Metrics interface {
	RecordDelivery(ctx context.Context, platform types.DevicePlatform, result string)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits PushDelivery{Platform, Result} counts.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace
// falls back to types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDelivery implements Metrics. Failures are logged, never returned.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, platform types.DevicePlatform, result string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricPushDelivery),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimPlatform), Value: aws.String(string(platform))},
					{Name: aws.String(types.DimResult), Value: aws.String(result)},
				},
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record push delivery metric",
			"error", err.Error(),
			"platform", string(platform),
			"result", result,
		)
	}
}

// NoopMetrics discards everything. Used locally and when metrics are off.
type NoopMetrics struct{}

// RecordDelivery implements Metrics.
func (NoopMetrics) RecordDelivery(context.Context, types.DevicePlatform, string) {}
