package observability

import (
	"context"
	"log/slog"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a span around an operation. The returned func ends the
// span and reports its duration as "<component>.<operation>.duration_ms".
func StartSpan(ctx context.Context, component, operation string, attrs ...slog.Attr) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	base := append([]slog.Attr{
		slog.String("service", cfg.Component),
		slog.String("component", component),
		slog.String("operation", operation),
	}, attrs...)
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start", base...)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		level := slog.LevelDebug
		end := append(append([]slog.Attr{}, base...), slog.Duration("duration", elapsed))
		if err != nil {
			level = slog.LevelWarn
			end = append(end, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", end...)

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		RecordMetric(ctx, component+"."+operation+".duration_ms", float64(elapsed.Milliseconds()),
			map[string]string{"outcome": outcome})
	}
}

// RecordMetric emits a metric datapoint via the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, _ := currentLogger()
	if logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}
