// Command aloft-node drives the same radio and protocol stack as
// aloft-gateway, but without mDNS/DNS-SD advertisement: a bare second
// station for point-to-point testing and bench work, modeled on the
// teacher's cmd/samoyed-appserver startup sequence minus the TNC
// network-attach step (this binary owns its radio directly).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kb9tek/aloft/internal/applog"
	"github.com/kb9tek/aloft/protocol"
	"github.com/kb9tek/aloft/protocolcfg"
	"github.com/kb9tek/aloft/protocolhelpers"
	"github.com/kb9tek/aloft/radio/bridge"
	"github.com/kb9tek/aloft/transceiver"
	"github.com/spf13/pflag"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Path to the node's YAML configuration file.")
	var logLevel = pflag.String("log-level", "info", "Log level: debug, info, warn, error.")
	var txPort = pflag.Uint8P("tx-port", "t", 9, "Stream port to open when --send is used.")
	var sendFrom = pflag.String("send", "", "Read this file, transmit it on --tx-port, then exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - bench/test station for the packet radio link\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s --config node.yaml [--send FILE]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help || *configPath == "" {
		pflag.Usage()

		if *configPath == "" {
			os.Exit(1)
		}

		os.Exit(0)
	}

	level, err := applog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	var logger = applog.New("node", level)

	cfg, err := protocolcfg.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := bridge.Open(bridge.Config{
		SerialDevice: cfg.Radio.SerialDevice,
		BaudRate:     cfg.Radio.BaudRate,
		MaxPacket:    1024,
		GPIO: bridge.GPIOConfig{
			Chip:      cfg.Radio.GPIOChip,
			ResetLine: cfg.Radio.GPIOResetLine,
			DIO0Line:  cfg.Radio.GPIODIO0Line,
		},
	})
	if err != nil {
		logger.Error("open radio", "err", err)
		os.Exit(1)
	}

	defer dev.Close()

	if cfg.Radio.FrequencyHz > 0 {
		if err := dev.SetFrequency(0, cfg.Radio.FrequencyHz); err != nil {
			logger.Error("set frequency", "err", err)
			os.Exit(1)
		}
	}

	var tc = transceiver.New(dev, transceiver.Config{
		TransmitTimeout:         time.Duration(cfg.Radio.TransmitTimeoutMillis) * time.Millisecond,
		MaximumReceiveTime:      time.Duration(cfg.Radio.MaximumReceiveTimeMillis) * time.Millisecond,
		MaintenancePollInterval: time.Duration(cfg.Radio.MaintenancePollIntervalMillis) * time.Millisecond,
	}, applog.New("transceiver", level))
	tc.Start()

	defer tc.Close()

	var p = protocol.New(cfg, protocol.NewTransceiverAdapter(tc), nil, applog.New("protocol", level))
	p.Start()

	defer p.Close()

	tc.SetReceiveActive(true)

	if *sendFrom != "" {
		var err = protocolhelpers.TransmitFileAndBuffer(p, *txPort, true, *sendFrom, nil, cfg.AckReceiveTimeout())
		if err != nil {
			logger.Error("transmit", "err", err)
			os.Exit(1)
		}

		logger.Info("transmit complete", "file", *sendFrom, "port", *txPort)

		return
	}

	logger.Info("node ready", "config", *configPath)

	<-ctx.Done()

	logger.Info("node shutting down")
}
