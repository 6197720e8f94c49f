// cmd/lisd/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/config"
	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/observability"
	"github.com/rudrakshya/LIS/internal/pipeline"
	"github.com/rudrakshya/LIS/internal/protocol"
	"github.com/rudrakshya/LIS/internal/protocol/bt1500"
	"github.com/rudrakshya/LIS/internal/protocol/hl7"
	"github.com/rudrakshya/LIS/internal/queue"
	"github.com/rudrakshya/LIS/internal/status"
	"github.com/rudrakshya/LIS/internal/storage"
	"github.com/rudrakshya/LIS/internal/transport"
	serialport "github.com/rudrakshya/LIS/internal/transport/serial"
	"github.com/rudrakshya/LIS/internal/transport/tcp"
)

func main() {
	if len(os.Args) < 2 {
		logrus.Fatal("usage: lisd <config.yaml>")
	}
	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		logrus.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	logger := observability.NewLogger(cfg.Logging.Level)
	metrics := observability.NewMetrics()

	// --------------------
	// Shared engine state
	// --------------------

	store, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("storage open failed: %v", err)
	}
	defer store.Close()

	registry := device.NewRegistry(device.Config{
		ActivityTimeout: time.Duration(cfg.Server.IdleTimeoutS) * time.Second,
		MaxRetries:      maxReconnectAttempts(cfg),
	}, logger, metrics.ConnectedDevices)

	profiles := protocol.NewRegistry(
		hl7.Profile{MaxFrame: cfg.Server.MaxFrameBytes},
		bt1500.Profile{},
	)

	q := queue.New(cfg.Queue.Capacity)
	dispatcher := transport.NewDispatcher(logger, metrics)
	intake := &transport.Intake{
		Queue:    q,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
	}

	// --------------------
	// Register configured devices
	// --------------------

	for _, d := range cfg.Devices {
		kind := device.TransportTCP
		if d.Transport == "serial" {
			kind = device.TransportSerial
		}
		registry.Register(d.ID, kind, d.Profile, d.Port, time.Duration(d.TimeoutS)*time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// --------------------
	// Processing pipeline
	// --------------------

	pipe := pipeline.New(pipeline.Config{
		Workers:    cfg.Pipeline.Workers,
		RetryMax:   cfg.Pipeline.RetryMax,
		RetryDelay: time.Duration(cfg.Pipeline.RetryDelayMs) * time.Millisecond,
	}, q, store, dispatcher, logger, metrics, resultLogNotifier{logger: logger})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipe.Run(workerCtx)
	}()

	// --------------------
	// Transports
	// --------------------

	server := tcp.NewServer(tcp.Config{
		Listen:      cfg.Server.Listen,
		IdleTimeout: time.Duration(cfg.Server.IdleTimeoutS) * time.Second,
	}, intake, dispatcher, registry, profiles)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			logger.WithError(err).Error("tcp server stopped")
			cancel()
		}
	}()

	for _, d := range cfg.Devices {
		if d.Transport != "serial" {
			continue
		}
		profile, err := profiles.Profile(d.Profile)
		if err != nil {
			logger.WithError(err).WithField("device", d.ID).Error("skipping device")
			continue
		}
		sess := serialport.NewSession(serialport.Config{
			DeviceID:       d.ID,
			Port:           d.Port,
			BaudRate:       d.BaudRate,
			DataBits:       d.DataBits,
			StopBits:       d.StopBits,
			Parity:         d.Parity,
			ReadTimeout:    time.Duration(d.TimeoutS) * time.Second,
			BackoffInitial: time.Duration(d.Reconnect.InitialMs) * time.Millisecond,
			BackoffMax:     time.Duration(d.Reconnect.MaxMs) * time.Millisecond,
		}, profile, intake, dispatcher, registry)

		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Run(ctx)
		}()
	}

	// --------------------
	// Registry sweep + metrics/status endpoint
	// --------------------

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.RunSweep(ctx, 10*time.Second)
	}()

	if cfg.Metrics.Listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/status", status.Handler(registry, q))
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
	}

	logger.WithField("listen", cfg.Server.Listen).Info("engine started")

	// --------------------
	// Graceful shutdown: stop ingestion, drain within the grace period,
	// dead-letter whatever is left.
	// --------------------

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	cancel()  // stops transports and the sweep; no new frames
	q.Close() // rejects further enqueues, workers keep draining

	grace := time.Duration(cfg.Server.ShutdownGraceS) * time.Second
	drained := make(chan struct{})
	go func() {
		for q.Depth() > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
		logger.Warn("shutdown grace expired with entries still queued")
	}

	stopWorkers()
	wg.Wait()

	if rest := q.Drain(); len(rest) > 0 {
		logger.WithField("count", len(rest)).Warn("dead-lettering undrained entries")
		pipe.DeadLetterDrained(rest)
	}
	logger.Info("engine stopped")
}

// resultLogNotifier is the default result-ingestion callback: it announces
// stored results for downstream report/notification collaborators tailing
// the log. Real deployments attach their own pipeline.Notifier.
type resultLogNotifier struct {
	logger *logrus.Logger
}

func (n resultLogNotifier) ResultStored(rs *protocol.ResultSet) {
	n.logger.WithFields(logrus.Fields{
		"control_id":   rs.ControlID,
		"device":       rs.DeviceID,
		"patient_id":   rs.PatientID,
		"observations": len(rs.Observations),
	}).Info("result stored")
}

func maxReconnectAttempts(cfg *config.Config) int {
	max := 0
	for _, d := range cfg.Devices {
		if d.Reconnect.MaxAttempts > max {
			max = d.Reconnect.MaxAttempts
		}
	}
	return max
}
