package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/ble"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/gateways/envsensor/network"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/logging"
	"github.com/janael-pinheiro/envsensor-gateway/pkg/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	debug := flag.Bool("d", false, "debug trace on")
	verbose := flag.Bool("v", false, "verbose trace on")
	configPath := flag.String("f", "", "configuration file (required)")
	logFile := flag.String("log-file", "", "write logs to a rotated file instead of stderr")
	flag.Parse()

	if *configPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := utils.LoadConfiguration(*configPath)
	if err != nil {
		logging.NewLogrus(logrus.ErrorLevel.String(), os.Stderr).Get("Main").Fatal(err)
	}
	if *logFile != "" {
		conf.Log.File = *logFile
	}

	logger := logging.NewLogrus(logging.LevelFromFlags(*debug, *verbose), logging.Output(conf.Log.File))
	log := logger.Get("Main")
	log.Infof("%d devices registered, sink %s", len(conf.Devices), conf.Sink.Kind)

	sink, err := network.NewSink(conf.Sink)
	if err != nil {
		log.Fatalf("sink: %v", err)
	}
	defer sink.Close()

	scanner := ble.NewAdapterScanner(conf.Scan.Adapter, logger.Get("Scanner"))
	if err := scanner.Enable(); err != nil {
		log.Fatal(err)
	}

	gateway, err := envsensor.New(conf, scanner, sink, logger.Get("Gateway"))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sdnotify(log, daemon.SdNotifyReady)
	err = gateway.Run(ctx)
	sdnotify(log, daemon.SdNotifyStopping)

	stats := gateway.Stats()
	log.Infof("scans=%d scan_errors=%d accepted=%d rejected=%d unknown=%d malformed=%d delivered=%d dropped=%d overflowed=%d",
		stats.Scans, stats.ScanErrors, stats.Accepted, stats.Rejected, stats.Unknown,
		stats.Malformed, stats.Delivered, stats.Dropped, stats.Overflowed)
	if err != nil {
		log.Errorf("gateway stopped: %v", err)
		sink.Close()
		os.Exit(1)
	}
}

func sdnotify(log *logrus.Entry, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warnf("sdnotify %s: %v", state, err)
	}
}
