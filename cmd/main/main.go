package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	conf "github.com/clinicore/report-exporter/config"
	"github.com/clinicore/report-exporter/internal/app"
	"github.com/clinicore/report-exporter/internal/model"
	logging "github.com/clinicore/report-exporter/internal/otel"

	// ------------ logging ------------ //
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func main() {

	// Load configuration
	config, appErr := conf.LoadConfig()
	if appErr != nil {
		slog.Error("report_exporter.main.configuration_error", slog.String("error", appErr.Error()))
		return
	}

	// slog + OTEL logging
	service := resource.NewSchemaless(
		semconv.ServiceName(model.AppServiceName),
		semconv.ServiceVersion(model.CurrentVersion),
		semconv.ServiceInstanceID(config.Consul.Id),
		semconv.ServiceNamespace(model.NamespaceName),
	)
	shutdown := logging.Setup(service)

	// Initialize the application
	application, appErr := app.New(config, shutdown)
	if appErr != nil {
		slog.Error("report_exporter.main.application_initialization_error", slog.String("error", appErr.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize signal handling for graceful shutdown
	initSignals(application, cancel)

	slog.Debug("report_exporter.main.configuration_loaded",
		slog.String("consul", config.Consul.Address),
		slog.String("http_address", config.HTTP.Addr),
		slog.String("consul_id", config.Consul.Id),
	)

	// Start the application
	slog.Info("report_exporter.main.starting_application")
	if err := application.Start(ctx); err != nil {
		slog.Error("report_exporter.main.application_start_error", slog.String("error", err.Error()))
	}
}

func initSignals(application *app.App, cancel context.CancelFunc) {
	slog.Info("report_exporter.main.initializing_stop_signals")
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		for {
			s := <-sigch
			handleSignals(s, application, cancel)
		}
	}()
}

func handleSignals(signal os.Signal, application *app.App, cancel context.CancelFunc) {
	if signal == syscall.SIGTERM || signal == syscall.SIGINT {
		cancel()
		if err := application.Stop(); err != nil {
			return
		}
		slog.Info(
			"report_exporter.main.received_kill_signal",
			slog.String("signal", signal.String()),
			slog.String("status", "service gracefully stopped"),
		)
		os.Exit(0)
	}
}
