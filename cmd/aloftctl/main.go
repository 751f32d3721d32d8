// Command aloftctl is a scriptable front end to the protocol, modeled
// directly on the teacher's kissutil: a --transmit-from directory is
// polled for files, each one is sent and then deleted; a --receive-output
// directory gets one uniquely-named file per received stream.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kb9tek/aloft/internal/applog"
	"github.com/kb9tek/aloft/pipe"
	"github.com/kb9tek/aloft/protocol"
	"github.com/kb9tek/aloft/protocolcfg"
	"github.com/kb9tek/aloft/protocolhelpers"
	"github.com/kb9tek/aloft/radio/bridge"
	"github.com/kb9tek/aloft/transceiver"
	"github.com/spf13/pflag"
)

func main() {
	var configPath = pflag.StringP("config", "c", "", "Path to the YAML configuration file.")
	var port = pflag.Uint8P("port", "p", 9, "Stream port to transmit on and listen on.")
	var acksEnabled = pflag.BoolP("acks", "a", true, "Enable selective-ack retransmission for this port.")
	var transmitFrom = pflag.StringP("transmit-from", "f", "", "Poll this directory for files to send, deleting each after transmit.")
	var receiveOutput = pflag.StringP("receive-output", "o", "", "Write each completed received stream here as a timestamped file.")
	var pollInterval = pflag.Duration("poll-interval", time.Second, "How often to rescan --transmit-from.")
	var maxMessageSize = pflag.Int("max-message-size", 16<<20, "Reject (and drop) a received stream larger than this many bytes.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - scriptable file transfer over the packet radio link\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s --config link.yaml [--transmit-from DIR] [--receive-output DIR]\n\n", os.Args[0])
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

	var logger = applog.New("aloftctl", log.InfoLevel)

	cfg, err := protocolcfg.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if *receiveOutput != "" {
		s, err := os.Stat(*receiveOutput)
		if err != nil {
			logger.Error("receive output directory", "err", err)
			os.Exit(1)
		}

		if !s.IsDir() {
			logger.Error("receive output location is not a directory", "path", *receiveOutput)
			os.Exit(1)
		}
	}

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
	}, applog.New("transceiver", log.InfoLevel))
	tc.Start()

	defer tc.Close()

	// incoming carries each newly-opened receive stream on our configured
	// port from the StreamListener to receiveLoop, the way
	// ert_gateway_stream_listener_callback pushes onto a per-port
	// ert_pipe queue for a dedicated handler goroutine to drain, instead
	// of a poller scanning every possible stream ID.
	var incoming = pipe.New[*protocol.Stream](cfg.ReceiveStreamCount)

	var streamListener protocol.StreamListener

	if *receiveOutput != "" {
		streamListener = func(p *protocol.Protocol, st *protocol.Stream) {
			if st.Port() != *port {
				logger.Error("stream opened on unexpected port, closing", "port", st.Port(), "stream_id", st.StreamID())

				if err := p.ReceiveStreamClose(st); err != nil {
					logger.Error("close unexpected stream", "err", err)
				}

				return
			}

			if !incoming.TryPush(st) {
				logger.Error("receive queue full, closing stream", "port", st.Port(), "stream_id", st.StreamID())

				if err := p.ReceiveStreamClose(st); err != nil {
					logger.Error("close stream", "err", err)
				}
			}
		}
	}

	var p = protocol.New(cfg, protocol.NewTransceiverAdapter(tc), streamListener, applog.New("protocol", log.InfoLevel))
	p.Start()

	defer p.Close()

	tc.SetReceiveActive(true)

	if *receiveOutput != "" {
		go receiveLoop(p, incoming, *receiveOutput, cfg.AckReceiveTimeout(), *maxMessageSize, logger)
	}

	if *transmitFrom != "" {
		transmitLoop(p, *port, *acksEnabled, *transmitFrom, *pollInterval, cfg.AckReceiveTimeout(), logger)
		return
	}

	select {}
}

// transmitLoop mirrors kissutil's --transmit-from: poll the directory,
// send and delete whatever turns up, sleep, repeat forever.
func transmitLoop(p *protocol.Protocol, port uint8, acksEnabled bool, dir string, pollInterval, ackReceiveTimeout time.Duration, logger interface {
	Info(string, ...any)
	Error(string, ...any)
}) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Error("list transmit-from directory", "err", err)
			time.Sleep(pollInterval)

			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			var path = filepath.Join(dir, entry.Name())

			logger.Info("transmitting", "file", path)

			if err := protocolhelpers.TransmitFileAndBuffer(p, port, acksEnabled, path, nil, ackReceiveTimeout); err != nil {
				logger.Error("transmit failed, keeping file", "file", path, "err", err)
				continue
			}

			if err := os.Remove(path); err != nil {
				logger.Error("remove sent file", "file", path, "err", err)
			}
		}

		time.Sleep(pollInterval)
	}
}

// receiveLoop pops each stream the StreamListener accepted onto incoming
// and writes it to a uniquely-named file in dir, the way
// ert_gateway_handler_telemetry_node loops on ert_pipe_pop to drain
// whatever its stream listener dispatched to its queue, rather than
// polling for a new stream to appear.
func receiveLoop(p *protocol.Protocol, incoming *pipe.Pipe[*protocol.Stream], dir string, readTimeout time.Duration, maxMessageSize int, logger interface {
	Info(string, ...any)
	Error(string, ...any)
}) {
	for {
		st, ok := incoming.Pop()
		if !ok {
			return
		}

		go func(st *protocol.Stream) {
			path, err := protocolhelpers.ReceiveFile(p, st, dir, readTimeout, maxMessageSize)
			if err != nil {
				logger.Error("receive failed", "err", err)
				return
			}

			logger.Info("received", "file", path)

			p.ReceiveStreamRelease(st)
		}(st)
	}
}
