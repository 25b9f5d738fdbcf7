package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thehobbit85/chromanode/internal/blockimport"
	"github.com/thehobbit85/chromanode/internal/chainsync"
	"github.com/thehobbit85/chromanode/internal/colorcoin"
	"github.com/thehobbit85/chromanode/internal/config"
	"github.com/thehobbit85/chromanode/internal/events"
	"github.com/thehobbit85/chromanode/internal/logger"
	"github.com/thehobbit85/chromanode/internal/mq/natsmq"
	"github.com/thehobbit85/chromanode/internal/node"
	"github.com/thehobbit85/chromanode/internal/orphan"
	"github.com/thehobbit85/chromanode/internal/smartlock"
	"github.com/thehobbit85/chromanode/internal/store/postgres"
	"github.com/thehobbit85/chromanode/internal/tximport"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("chromanode: %v", err)
	}
}

func run() error {
	configDir, logLevel, logFormat := parseFlags()

	if err := config.InitViper(configDir); err != nil {
		return err
	}

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	rootLogger, err := logger.New("chromanode", logLevel, logFormat)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	rootLogger.Info("starting chromanode", slog.String("network", string(settings.Network)))

	storage, err := postgres.New(settings.Postgres.DSN, settings.Postgres.MaxIdleConns, settings.Postgres.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	defer storage.Close()

	bus, err := natsmq.Dial(settings.NATS.URL, rootLogger.With(slog.String("component", "mq")))
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}
	defer bus.Close()

	rpc, err := node.Dial(settings.Node.Host, settings.Node.RPCPort, settings.Node.RPCUser, settings.Node.RPCPass, settings.Node.UseSSL)
	if err != nil {
		return fmt.Errorf("connect node rpc: %w", err)
	}

	zmqAddr := fmt.Sprintf("tcp://%s:%d", settings.Node.Host, settings.Node.ZMQPort)
	zmqSource, err := node.DialZMQ(zmqAddr, rootLogger.With(slog.String("component", "node")))
	if err != nil {
		return fmt.Errorf("connect node zmq: %w", err)
	}
	defer zmqSource.Close()

	pub := events.New(bus, rootLogger.With(slog.String("component", "events")))
	lock := smartlock.New()
	orphans := orphan.New()

	txImporter := tximport.New(storage, lock, orphans, pub, settings.Network.IsMainnet(), rootLogger.With(slog.String("component", "tximport")))
	blockImporter := blockimport.New(storage, lock, pub, settings.Network.IsMainnet())

	chainSyncer := chainsync.New(storage, rpc, lock, pub, txImporter, blockImporter, orphans, rootLogger.With(slog.String("component", "chainsync")))

	// EPOBC's Scan/Remove/Mint hooks are left unset here: the actual
	// padding/order-based color-value encoding belongs to an external
	// colored-coin library (spec §4.9, explicitly out of scope for this
	// indexer), so this binary ships the frontier-tracking and
	// IDPattern-based definition dispatch wired and tested, with no
	// color library plugged in. Until one is, EPOBC.FullScanTx and
	// RemoveColorValues are no-ops — only the color-scanned row
	// bookkeeping runs.
	rescanner := colorcoin.New(storage, []colorcoin.Definition{&colorcoin.EPOBC{}}, rootLogger.With(slog.String("component", "colorcoin")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- chainSyncer.Start(ctx, zmqSource, settings.Retry.BlockImportInterval)
	}()
	go func() {
		errCh <- rescanner.Start(ctx, bus, settings.Retry.MempoolInterval)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalChan:
		rootLogger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			rootLogger.Error("component stopped", slog.String("err", err.Error()))
		}
	}

	cancel()
	return nil
}

func parseFlags() (configDir, logLevel, logFormat string) {
	dir := flag.String("config", ".", "directory containing config.yaml")
	level := flag.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	format := flag.String("log-format", "tint", "log format: text, json, tint")
	flag.Parse()
	return *dir, *level, *format
}
