package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCloudWatchClient records PutMetricData calls.
type mockCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordScan_EmitsAllThreeMetrics(t *testing.T) {
	client := &mockCloudWatchClient{}
	m := NewCloudWatchRunMetrics(client, "FleetOps", testLogger())

	m.RecordScan(context.Background(), 1500*time.Millisecond, 12, 1)

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "FleetOps", *input.Namespace)
	require.Len(t, input.MetricData, 3)

	byName := map[string]float64{}
	for _, d := range input.MetricData {
		byName[*d.MetricName] = *d.Value
	}
	assert.Equal(t, float64(1500), byName[MetricScanLatency])
	assert.Equal(t, float64(12), byName[MetricScanCandidates])
	assert.Equal(t, float64(1), byName[MetricScanFailures])
}

func TestRecordAlertsCreated(t *testing.T) {
	client := &mockCloudWatchClient{}
	m := NewCloudWatchRunMetrics(client, "FleetOps", testLogger())

	m.RecordAlertsCreated(context.Background(), 5)

	require.Len(t, client.inputs, 1)
	datum := client.inputs[0].MetricData[0]
	assert.Equal(t, MetricAlertsCreated, *datum.MetricName)
	assert.Equal(t, float64(5), *datum.Value)
}

func TestRecordDispatch_ResultDimension(t *testing.T) {
	client := &mockCloudWatchClient{}
	m := NewCloudWatchRunMetrics(client, "FleetOps", testLogger())

	m.RecordDispatch(context.Background(), true, 3)
	m.RecordDispatch(context.Background(), false, 0)

	require.Len(t, client.inputs, 2)

	success := client.inputs[0].MetricData[0]
	require.Len(t, success.Dimensions, 1)
	assert.Equal(t, DimResult, *success.Dimensions[0].Name)
	assert.Equal(t, "success", *success.Dimensions[0].Value)
	assert.Equal(t, float64(3), *success.Value)

	failure := client.inputs[1].MetricData[0]
	assert.Equal(t, "failure", *failure.Dimensions[0].Value)
}

func TestPutFailureIsSwallowed(t *testing.T) {
	client := &mockCloudWatchClient{err: fmt.Errorf("simulated throttling")}
	m := NewCloudWatchRunMetrics(client, "FleetOps", testLogger())

	// Must not panic or propagate; metric emission is best effort.
	m.RecordAlertsCreated(context.Background(), 1)
	m.RecordDispatch(context.Background(), true, 1)
}
