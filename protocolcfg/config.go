// Package protocolcfg loads the Comm Protocol's configuration (spec.md
// §6) from YAML, the way the teacher's config.go builds a flat options
// struct with defaults and then populates it from a parsed configuration
// file.
package protocolcfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the "Protocol configuration" table in spec.md §6 plus the
// radio transport settings needed to open a device (§9 of SPEC_FULL.md).
type Config struct {
	PassiveMode     bool `yaml:"passive_mode"`
	TransmitAllData bool `yaml:"transmit_all_data"`
	IgnoreErrors    bool `yaml:"ignore_errors"`

	ReceiveBufferLengthPackets int `yaml:"receive_buffer_length_packets"`

	StreamInactivityTimeoutMillis           int `yaml:"stream_inactivity_timeout_millis"`
	StreamAckIntervalPacketCount            int `yaml:"stream_acknowledgement_interval_packet_count"`
	StreamAckReceiveTimeoutMillis           int `yaml:"stream_acknowledgement_receive_timeout_millis"`
	StreamAckGuardIntervalMillis            int `yaml:"stream_acknowledgement_guard_interval_millis"`
	StreamAckMaxRerequestCount              int `yaml:"stream_acknowledgement_max_rerequest_count"`
	StreamEndOfStreamAckMaxRerequestCount   int `yaml:"stream_end_of_stream_acknowledgement_max_rerequest_count"`

	TransmitStreamCount int `yaml:"transmit_stream_count"`
	ReceiveStreamCount  int `yaml:"receive_stream_count"`

	Radio RadioConfig `yaml:"radio"`
}

// RadioConfig is the transport-level configuration for the device the
// transceiver drives; it is opaque to the protocol layer itself.
type RadioConfig struct {
	TransmitTimeoutMillis        int    `yaml:"transmit_timeout_millis"`
	MaximumReceiveTimeMillis     int    `yaml:"maximum_receive_time_millis"`
	MaintenancePollIntervalMillis int   `yaml:"maintenance_poll_interval_millis"`
	SerialDevice                 string `yaml:"serial_device"`
	BaudRate                     int    `yaml:"baud_rate"`
	FrequencyHz                  uint64 `yaml:"frequency_hz"`
	GPIOChip                     string `yaml:"gpio_chip"`
	GPIOResetLine                int    `yaml:"gpio_reset_line"`
	GPIODIO0Line                  int    `yaml:"gpio_dio0_line"`
}

// Default returns a Config with every field set to the default named in
// spec.md §6.
func Default() Config {
	return Config{
		PassiveMode:                           false,
		TransmitAllData:                       false,
		IgnoreErrors:                          false,
		ReceiveBufferLengthPackets:            2 * 32,
		StreamInactivityTimeoutMillis:         20_000,
		StreamAckIntervalPacketCount:          32,
		StreamAckReceiveTimeoutMillis:         1_000,
		StreamAckGuardIntervalMillis:          50,
		StreamAckMaxRerequestCount:            5,
		StreamEndOfStreamAckMaxRerequestCount: 2,
		TransmitStreamCount:                   16,
		ReceiveStreamCount:                    32,
		Radio: RadioConfig{
			TransmitTimeoutMillis:         5_000,
			MaintenancePollIntervalMillis: 250,
		},
	}
}

// Load reads and validates a YAML configuration file, starting from
// Default() so a partial file only overrides what it names.
func Load(path string) (Config, error) {
	var cfg = Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("protocolcfg: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("protocolcfg: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate rejects configurations that would violate a spec.md invariant
// before the protocol is ever constructed.
func (c Config) Validate() error {
	if c.TransmitStreamCount <= 0 {
		return fmt.Errorf("protocolcfg: transmit_stream_count must be positive")
	}

	if c.TransmitStreamCount > 16 {
		return fmt.Errorf("protocolcfg: transmit_stream_count must be <= 16 (wire stream ID is a 4-bit field)")
	}

	if c.ReceiveStreamCount <= 0 {
		return fmt.Errorf("protocolcfg: receive_stream_count must be positive")
	}

	if c.StreamAckIntervalPacketCount <= 0 {
		return fmt.Errorf("protocolcfg: stream_acknowledgement_interval_packet_count must be positive")
	}

	if c.ReceiveBufferLengthPackets <= 0 {
		return fmt.Errorf("protocolcfg: receive_buffer_length_packets must be positive")
	}

	return nil
}

// AckInterval returns the ack cadence / history depth as a plain int for
// convenient use by the protocol package.
func (c Config) AckInterval() int {
	return c.StreamAckIntervalPacketCount
}

// InactivityTimeout returns the configured inactivity threshold as a
// time.Duration.
func (c Config) InactivityTimeout() time.Duration {
	return time.Duration(c.StreamInactivityTimeoutMillis) * time.Millisecond
}

// AckReceiveTimeout returns the configured ack-wait timeout as a
// time.Duration.
func (c Config) AckReceiveTimeout() time.Duration {
	return time.Duration(c.StreamAckReceiveTimeoutMillis) * time.Millisecond
}

// AckGuardInterval returns the configured pre-ack guard sleep as a
// time.Duration.
func (c Config) AckGuardInterval() time.Duration {
	return time.Duration(c.StreamAckGuardIntervalMillis) * time.Millisecond
}
