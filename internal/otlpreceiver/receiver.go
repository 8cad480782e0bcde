// Package otlpreceiver accepts OTLP metric exports over gRPC and records
// gauge and sum data points as measurements.
package otlpreceiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricsv1 "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"

	"github.com/tinytelemetry/windstat/internal/ingest"
	"github.com/tinytelemetry/windstat/internal/model"
)

// DefaultAddr is the standard OTLP/gRPC port on loopback.
const DefaultAddr = "127.0.0.1:4317"

// Receiver implements the OTLP MetricsService.
type Receiver struct {
	collectormetrics.UnimplementedMetricsServiceServer

	addr   string
	sink   model.Recorder
	logger *slog.Logger
	server *grpc.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewReceiver creates a receiver that records into sink. A nil logger uses
// slog.Default.
func NewReceiver(addr string, sink model.Recorder, logger *slog.Logger) *Receiver {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Receiver{
		addr:   addr,
		sink:   sink,
		logger: logger.With("component", "otlpreceiver"),
		server: grpc.NewServer(),
	}
	collectormetrics.RegisterMetricsServiceServer(r.server, r)
	return r
}

// Start listens on the configured address and serves in the background.
func (r *Receiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("otlp listen: %w", err)
	}
	go func() {
		if err := r.Serve(lis); err != nil {
			r.logger.Error("serve failed", "error", err)
		}
	}()
	return nil
}

// Serve blocks serving lis until Stop.
func (r *Receiver) Serve(lis net.Listener) error {
	r.mu.Lock()
	r.listener = lis
	r.mu.Unlock()
	r.logger.Info("listening", "addr", lis.Addr().String())

	if err := r.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr returns the listen address, or the configured one before Start.
func (r *Receiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}

// Stop waits for in-flight exports to finish.
func (r *Receiver) Stop() {
	r.server.GracefulStop()
}

// Export records every gauge and sum data point. Other point kinds and
// points that fail to record are counted in PartialSuccess.
func (r *Receiver) Export(_ context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	var rejected int64
	var firstErr error
	reject := func(n int, err error) {
		rejected += int64(n)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, rm := range req.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				points, unsupported := numberPoints(m)
				if unsupported > 0 {
					reject(unsupported, fmt.Errorf("metric %q: only gauge and sum points are supported", m.GetName()))
					continue
				}
				unit := m.GetUnit()
				if !ingest.IsDurationUnit(unit) {
					unit = ""
				}
				for _, p := range points {
					if err := r.record(m.GetName(), p, unit); err != nil {
						reject(1, err)
					}
				}
			}
		}
	}

	resp := &collectormetrics.ExportMetricsServiceResponse{}
	if rejected > 0 {
		r.logger.Debug("export partially rejected", "rejected", rejected, "error", firstErr)
		resp.PartialSuccess = &collectormetrics.ExportMetricsPartialSuccess{
			RejectedDataPoints: rejected,
			ErrorMessage:       firstErr.Error(),
		}
	}
	return resp, nil
}

func (r *Receiver) record(name string, p *metricsv1.NumberDataPoint, unit string) error {
	var v float64
	switch val := p.GetValue().(type) {
	case *metricsv1.NumberDataPoint_AsInt:
		if unit == "" {
			return r.sink.Record(name, val.AsInt)
		}
		v = float64(val.AsInt)
	case *metricsv1.NumberDataPoint_AsDouble:
		v = val.AsDouble
	default:
		return fmt.Errorf("metric %q: data point without value", name)
	}
	n, err := ingest.Normalise(v, unit)
	if err != nil {
		return fmt.Errorf("metric %q: %w", name, err)
	}
	return r.sink.Record(name, n)
}

// numberPoints returns the number data points of m, or how many points of
// an unsupported kind it carries.
func numberPoints(m *metricsv1.Metric) ([]*metricsv1.NumberDataPoint, int) {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetDataPoints(), 0
	case m.GetSum() != nil:
		return m.GetSum().GetDataPoints(), 0
	case m.GetHistogram() != nil:
		return nil, len(m.GetHistogram().GetDataPoints())
	case m.GetExponentialHistogram() != nil:
		return nil, len(m.GetExponentialHistogram().GetDataPoints())
	case m.GetSummary() != nil:
		return nil, len(m.GetSummary().GetDataPoints())
	default:
		return nil, 0
	}
}
