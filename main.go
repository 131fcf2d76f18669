package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"positionCore/config"
	adapterlogger "positionCore/internal/adapters/logger"
	"positionCore/internal/adapters/sqlite"
	"positionCore/internal/domain"
	"positionCore/internal/engine"
	"positionCore/internal/ports"
	"positionCore/internal/risk"
)

// logBroker stands in for the execution collaborator: exit requests are
// logged for pickup by whatever drives order routing around this core.
type logBroker struct {
	logger ports.Logger
}

func (b *logBroker) RequestExit(ctx context.Context, req ports.ExitRequest) error {
	b.logger.Info(ctx, "Exit requested", map[string]interface{}{
		"positionID": req.PositionID,
		"ticker":     req.Ticker,
		"quantity":   req.Quantity,
		"side":       req.Side,
		"reason":     req.Reason,
	})
	return nil
}

// logNotifier stands in for the alerting collaborator.
type logNotifier struct {
	logger ports.Logger
}

func (n *logNotifier) PositionClosed(ctx context.Context, cp *domain.ClosedPosition) {
	n.logger.Info(ctx, "Position close event", map[string]interface{}{
		"positionID":  cp.ID,
		"ticker":      cp.Ticker,
		"reason":      cp.ExitReason,
		"realizedPnL": cp.RealizedPnL.String(),
	})
}

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFile != "" {
		fileLogger, err := adapterlogger.NewFileLogger(adapterlogger.FileConfig{
			Path:       cfg.LogFile,
			Level:      cfg.LogLevel,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize file logger: %v", err)
		}
		appLogger = fileLogger
	} else {
		appLogger = adapterlogger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing position store")
		}
	}()

	// 4. Initialize Engine
	eng, err := engine.New(engine.Config{
		Store:          store,
		Logger:         appLogger,
		Broker:         &logBroker{logger: appLogger},
		Notifier:       &logNotifier{logger: appLogger},
		MaxRetries:     cfg.MaxMutationRetries,
		PersistTimeout: cfg.PersistTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position engine: %v", err)
	}
	appLogger.Info(context.Background(), "Position engine initialized")

	// 5. Initialize Risk Monitor
	monitor, err := risk.NewMonitor(eng, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 6. Background loops: periodic risk scan and WAL compaction.
	go runRiskLoop(ctx, monitor, appLogger, cfg.RiskScanInterval)
	go runCompactionLoop(ctx, store, appLogger, cfg.CompactionInterval)

	appLogger.Info(ctx, "Position core running", map[string]interface{}{
		"dbPath":       cfg.DBPath,
		"riskScan":     cfg.RiskScanInterval.String(),
		"compaction":   cfg.CompactionInterval.String(),
		"storeTimeout": cfg.PersistTimeout.String(),
	})

	<-ctx.Done()
	// Give in-flight operations a moment to finish against the store.
	time.Sleep(200 * time.Millisecond)
	appLogger.Info(context.Background(), "Position core stopped.")
}

// runRiskLoop scans the open set for breached stop-loss/take-profit levels on
// a fixed cadence and force-closes whatever has tripped.
func runRiskLoop(ctx context.Context, monitor *risk.Monitor, logger ports.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := monitor.ScanAndClose(ctx)
			if err != nil {
				logger.Error(ctx, err, "Risk scan failed")
				continue
			}
			if len(closed) > 0 {
				logger.Info(ctx, "Risk scan closed positions", map[string]interface{}{"count": len(closed)})
			}
		}
	}
}

// runCompactionLoop periodically checkpoints the write-ahead log so its size
// stays bounded relative to live data.
func runCompactionLoop(ctx context.Context, store *sqlite.Store, logger ports.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Compact(ctx); err != nil {
				logger.Warn(ctx, "WAL compaction skipped", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
