package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-ppg/internal/common/logger"
	"wisefido-ppg/internal/config"
	"wisefido-ppg/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-ppg")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	zapLogger = zapLogger.With(zap.String("session_id", uuid.NewString()))
	defer zapLogger.Sync()

	zapLogger.Info("Starting wisefido-ppg service",
		zap.String("source", cfg.Source.Kind),
		zap.Float64("sample_rate_hz", cfg.SampleRateHz()),
		zap.Int("alert_threshold_bpm", cfg.Alert.ThresholdBPM),
	)

	// Create service; any failure here is an initialization fault
	monitorService, err := service.NewMonitorService(cfg, os.Stdout, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize monitor", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitorService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start monitor", zap.Error(err))
	}

	// Wait for a signal or for the run loop to end
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-monitorService.Done():
		zapLogger.Warn("Run loop exited")
	}

	cancel()
	if err := monitorService.Stop(); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	stats := monitorService.Stats()
	zapLogger.Info("Service stopped",
		zap.Uint64("samples", stats.Samples),
		zap.Uint64("beats", stats.Beats),
		zap.Uint64("transport_faults", stats.TransportFaults),
		zap.Uint64("overflows", stats.Overflows),
		zap.Uint64("lost_samples", stats.LostSamples),
		zap.Uint64("buzzer_pulses", stats.Pulses),
		zap.Uint64("dropped_lines", stats.Report.Dropped),
	)
}
