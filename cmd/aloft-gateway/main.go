// Command aloft-gateway runs one end of the link: it owns the radio,
// advertises itself on the local network via mDNS/DNS-SD, and runs the
// protocol until interrupted. It offers no interface through which other
// processes on the host open or read streams. Modeled on the teacher's cmd/samoyed-appserver, which parses its
// options with pflag and then runs forever until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kb9tek/aloft/internal/advertise"
	"github.com/kb9tek/aloft/internal/applog"
	"github.com/kb9tek/aloft/protocol"
	"github.com/kb9tek/aloft/protocolcfg"
	"github.com/kb9tek/aloft/radio/bridge"
	"github.com/kb9tek/aloft/transceiver"
	"github.com/spf13/pflag"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Path to the gateway's YAML configuration file.")
	var name = pflag.StringP("name", "n", "aloft-gateway", "Service name to advertise over mDNS/DNS-SD.")
	var advertisePort = pflag.IntP("advertise-port", "P", 7654, "Port advertised alongside the mDNS/DNS-SD record.")
	var logLevel = pflag.String("log-level", "info", "Log level: debug, info, warn, error.")
	var usbVendor = pflag.String("usb-vendor", "", "USB vendor ID to search for when serial_device is unset (e.g. 10c4).")
	var usbProduct = pflag.String("usb-product", "", "USB product ID to search for when serial_device is unset (e.g. ea60).")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - gateway daemon for the packet radio link\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s --config gateway.yaml [OPTIONS]\n\n", os.Args[0])
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

	var logger = applog.New("gateway", level)

	cfg, err := protocolcfg.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serialDevice := cfg.Radio.SerialDevice

	if serialDevice == "" && *usbVendor != "" && *usbProduct != "" {
		node, err := bridge.WaitForDevice(ctx, bridge.USBIdentity{VendorID: *usbVendor, ProductID: *usbProduct})
		if err != nil {
			logger.Error("wait for radio device", "err", err)
			os.Exit(1)
		}

		serialDevice = node
	}

	dev, err := bridge.Open(bridge.Config{
		SerialDevice: serialDevice,
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

	var tcCfg = transceiver.Config{
		TransmitTimeout:         time.Duration(cfg.Radio.TransmitTimeoutMillis) * time.Millisecond,
		MaximumReceiveTime:      time.Duration(cfg.Radio.MaximumReceiveTimeMillis) * time.Millisecond,
		MaintenancePollInterval: time.Duration(cfg.Radio.MaintenancePollIntervalMillis) * time.Millisecond,
	}

	var tc = transceiver.New(dev, tcCfg, applog.New("transceiver", level))
	tc.Start()

	defer tc.Close()

	var p = protocol.New(cfg, protocol.NewTransceiverAdapter(tc), nil, applog.New("protocol", level))
	p.Start()

	defer p.Close()

	tc.SetReceiveActive(true)

	advertise.Start(ctx, *name, *advertisePort, applog.New("dns-sd", level))

	logger.Info("gateway ready", "config", *configPath, "serial", serialDevice)

	<-ctx.Done()

	logger.Info("gateway shutting down")
}
