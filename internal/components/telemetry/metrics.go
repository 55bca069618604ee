package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterAPI forwards every report to `inner` and additionally records counts
// on a gauge, one series per report id.
type MeterAPI struct {
	inner API
	gauge metric.Int64Gauge
}

func NewMeterAPI(inner API, meter metric.Meter) (MeterAPI, error) {
	gauge, err := meter.Int64Gauge(
		"report.count",
		metric.WithDescription("counts reported through the telemetry api"),
	)
	if err != nil {
		return MeterAPI{}, err
	}
	return MeterAPI{inner: inner, gauge: gauge}, nil
}

func (m MeterAPI) ReportBroken(id string, params ...any) {
	m.inner.ReportBroken(id, params...)
}

func (m MeterAPI) ReportWarning(id string, params ...any) {
	m.inner.ReportWarning(id, params...)
}

func (m MeterAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

func (m MeterAPI) ReportCount(id string, count int64) {
	m.inner.ReportCount(id, count)
	m.gauge.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
}

var perfMeter = otel.Meter("pmaexport.perf_stats")
var cpuGauge, _ = perfMeter.Float64Gauge("cpu_usage")
var memoryGauge, _ = perfMeter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = perfMeter.Int64Gauge("goroutine_count")

// InstrumentPerfStats records process statistics every `interval` until ctx
// is done.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				cpuUsage, err := cpu.PercentWithContext(ctx, 0, false)
				if err == nil && len(cpuUsage) > 0 {
					cpuGauge.Record(ctx, cpuUsage[0])
				}
				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
