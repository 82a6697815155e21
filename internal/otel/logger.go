// Package otel wires slog into the OpenTelemetry log pipeline.
package otel

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Setup installs an otel-backed slog default logger and returns the
// provider shutdown hook.
func Setup(service *resource.Resource) func(ctx context.Context) error {
	exporter, err := stdoutlog.New()
	if err != nil {
		slog.Error("report_exporter.otel.exporter_init_failed", slog.String("error", err.Error()))
		return func(context.Context) error { return nil }
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(service),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	handler := otelslog.NewHandler("report_exporter",
		otelslog.WithLoggerProvider(provider),
	)
	slog.SetDefault(slog.New(&levelHandler{level: logLevelFromEnv(), next: handler}))

	return provider.Shutdown
}

// levelHandler filters records below the configured level before they reach
// the otel bridge.
type levelHandler struct {
	level slog.Level
	next  slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *levelHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.next.Handle(ctx, record)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithGroup(name)}
}

func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("OTEL_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
