package scheduler

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"classifieds/internal/types"
)

// SweepMetrics publishes the counts of a finished sweep.
type SweepMetrics interface {
	RecordSweep(ctx context.Context, res SweepResult)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSweepMetrics emits the four sweep counters in one call.
type CloudWatchSweepMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ SweepMetrics = (*CloudWatchSweepMetrics)(nil)

// NewCloudWatchSweepMetrics creates a CloudWatchSweepMetrics.
func NewCloudWatchSweepMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchSweepMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchSweepMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordSweep implements SweepMetrics. Failures are logged and dropped.
func (m *CloudWatchSweepMetrics) RecordSweep(ctx context.Context, res SweepResult) {
	count := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(res.Now),
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			count(types.MetricSweepScanned, res.Scanned),
			count(types.MetricSweepBumped, res.Bumped),
			count(types.MetricSweepDeactivated, res.Deactivated),
			count(types.MetricSweepFailedBatches, res.FailedBatches),
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish sweep metrics", "error", err)
	}
}

type noopSweepMetrics struct{}

func (noopSweepMetrics) RecordSweep(context.Context, SweepResult) {}
