package otlpreceiver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tinytelemetry/windstat/internal/logger"
	"github.com/tinytelemetry/windstat/internal/model"
)

type recordingSink struct {
	mu       sync.Mutex
	recorded []model.Measurement
}

func (s *recordingSink) Record(name string, value int64) error {
	if name == "bad name" {
		return errors.New("invalid metric name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, model.Measurement{Name: name, Value: value})
	return nil
}

func newTestClient(t *testing.T, sink model.Recorder) collectormetrics.MetricsServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	r := NewReceiver("bufnet", sink, logger.Discard())
	go func() { _ = r.Serve(lis) }()
	t.Cleanup(r.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return collectormetrics.NewMetricsServiceClient(conn)
}

func gauge(name, unit string, points ...*metricsv1.NumberDataPoint) *metricsv1.Metric {
	return &metricsv1.Metric{
		Name: name,
		Unit: unit,
		Data: &metricsv1.Metric_Gauge{Gauge: &metricsv1.Gauge{DataPoints: points}},
	}
}

func intPoint(v int64) *metricsv1.NumberDataPoint {
	return &metricsv1.NumberDataPoint{Value: &metricsv1.NumberDataPoint_AsInt{AsInt: v}}
}

func doublePoint(v float64) *metricsv1.NumberDataPoint {
	return &metricsv1.NumberDataPoint{Value: &metricsv1.NumberDataPoint_AsDouble{AsDouble: v}}
}

func request(metrics ...*metricsv1.Metric) *collectormetrics.ExportMetricsServiceRequest {
	return &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricsv1.ResourceMetrics{{
			ScopeMetrics: []*metricsv1.ScopeMetrics{{Metrics: metrics}},
		}},
	}
}

func TestReceiver_ExportRecordsNumberPoints(t *testing.T) {
	sink := &recordingSink{}
	client := newTestClient(t, sink)

	sum := &metricsv1.Metric{
		Name: "queue.depth",
		Data: &metricsv1.Metric_Sum{Sum: &metricsv1.Sum{DataPoints: []*metricsv1.NumberDataPoint{intPoint(7)}}},
	}
	resp, err := client.Export(context.Background(), request(
		gauge("http.latency", "ms", doublePoint(1.5), intPoint(2)),
		gauge("raw", "1", intPoint(42)),
		sum,
	))
	require.NoError(t, err)
	require.Nil(t, resp.GetPartialSuccess())

	require.Equal(t, []model.Measurement{
		{Name: "http.latency", Value: 1500},
		{Name: "http.latency", Value: 2000},
		{Name: "raw", Value: 42},
		{Name: "queue.depth", Value: 7},
	}, sink.recorded)
}

func TestReceiver_ExportRejectsUnsupportedPoints(t *testing.T) {
	sink := &recordingSink{}
	client := newTestClient(t, sink)

	hist := &metricsv1.Metric{
		Name: "rpc.duration",
		Data: &metricsv1.Metric_Histogram{Histogram: &metricsv1.Histogram{
			DataPoints: []*metricsv1.HistogramDataPoint{{Count: 3}, {Count: 1}},
		}},
	}
	resp, err := client.Export(context.Background(), request(
		hist,
		gauge("bad name", "", intPoint(1)),
		gauge("ok", "", intPoint(5)),
	))
	require.NoError(t, err)
	require.NotNil(t, resp.GetPartialSuccess())
	require.Equal(t, int64(3), resp.GetPartialSuccess().GetRejectedDataPoints())
	require.Contains(t, resp.GetPartialSuccess().GetErrorMessage(), "rpc.duration")
	require.Equal(t, []model.Measurement{{Name: "ok", Value: 5}}, sink.recorded)
}
