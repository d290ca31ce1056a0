// Package telemetry emits operational metrics for the expiry-check job
// to AWS CloudWatch. Metric emission is best effort: a failed put is
// logged and the run carries on.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric and dimension names published under the configured namespace.
const (
	MetricScanLatency    = "ExpiryScanLatency"
	MetricScanCandidates = "ExpiryScanCandidates"
	MetricScanFailures   = "ExpiryScanFailedQueries"
	MetricAlertsCreated  = "AlertsCreated"
	MetricDispatch       = "DispatchAttempt"

	DimResult = "Result"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRunMetrics publishes run metrics to CloudWatch. It implements
// the expiry.RunMetrics interface.
type CloudWatchRunMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRunMetrics creates a metrics sink publishing to the given
// CloudWatch namespace.
func NewCloudWatchRunMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRunMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRunMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordScan emits scan latency, candidate count, and failed query count.
func (m *CloudWatchRunMetrics) RecordScan(ctx context.Context, duration time.Duration, candidates int, failedQueries int) {
	m.put(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricScanLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
			{
				MetricName: aws.String(MetricScanCandidates),
				Value:      aws.Float64(float64(candidates)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(MetricScanFailures),
				Value:      aws.Float64(float64(failedQueries)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	})
}

// RecordAlertsCreated emits the number of alerts inserted this run.
func (m *CloudWatchRunMetrics) RecordAlertsCreated(ctx context.Context, created int) {
	m.put(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricAlertsCreated),
				Value:      aws.Float64(float64(created)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	})
}

// RecordDispatch emits a DispatchAttempt metric with a Result dimension.
func (m *CloudWatchRunMetrics) RecordDispatch(ctx context.Context, success bool, alertCount int) {
	result := "success"
	if !success {
		result = "failure"
	}

	m.put(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricDispatch),
				Value:      aws.Float64(float64(alertCount)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{
						Name:  aws.String(DimResult),
						Value: aws.String(result),
					},
				},
			},
		},
	})
}

func (m *CloudWatchRunMetrics) put(ctx context.Context, input *cloudwatch.PutMetricDataInput) {
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish run metrics",
			"namespace", m.namespace,
			"error", err,
		)
	}
}

// NoopRunMetrics discards all metrics. Used in local mode and when
// metrics are disabled by configuration.
type NoopRunMetrics struct{}

func (NoopRunMetrics) RecordScan(context.Context, time.Duration, int, int) {}

func (NoopRunMetrics) RecordAlertsCreated(context.Context, int) {}

func (NoopRunMetrics) RecordDispatch(context.Context, bool, int) {}
