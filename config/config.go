// Package config builds a servicebus.Bus from a YAML description of its transports
// and signal sinks.
//
//	tracing: true
//	buses:
//	  session:
//	    driver: dbus
//	  system:
//	    driver: nats
//	    nats:
//	      url: nats://localhost:4222
//	      ping_timeout: 250ms
//	sinks:
//	  - driver: kafka
//	    kafka:
//	      brokers: [localhost:9092]
//	      topic: hardbus.signals
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// Transport drivers.
const (
	DriverInMemory = "inmemory"
	DriverDBus     = "dbus"
	DriverNATS     = "nats"
)

// Sink drivers.
const (
	SinkRabbitMQ = "rabbitmq"
	SinkKafka    = "kafka"
)

type Config struct {
	// Tracing propagates OpenTelemetry context in NATS and RabbitMQ headers.
	Tracing bool           `yaml:"tracing"`
	Buses   map[string]Bus `yaml:"buses"`
	Sinks   []Sink         `yaml:"sinks"`
}

type Bus struct {
	Driver string `yaml:"driver"`
	DBus   DBus   `yaml:"dbus"`
	NATS   NATS   `yaml:"nats"`
}

type DBus struct {
	Bus     string `yaml:"bus"`
	Address string `yaml:"address"`
}

type NATS struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Prefix        string        `yaml:"prefix"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	PingTimeout   time.Duration `yaml:"ping_timeout"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

type Sink struct {
	Driver   string   `yaml:"driver"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Kafka    Kafka    `yaml:"kafka"`
}

type RabbitMQ struct {
	URL         string        `yaml:"url"`
	Exchange    string        `yaml:"exchange"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

type Kafka struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	ClientID   string   `yaml:"client_id"`
	Idempotent bool     `yaml:"idempotent"`
	// Acks is all, leader or none. Empty keeps the client default.
	Acks string `yaml:"acks"`
	// Compression is none, gzip, snappy, lz4 or zstd.
	Compression string    `yaml:"compression"`
	TLS         *KafkaTLS `yaml:"tls"`
	SASL        *SASL     `yaml:"sasl"`
}

type KafkaTLS struct {
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type SASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Load reads path, expands ${VAR} references from the environment and parses the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, errors.Join(berr.ErrConfiguration, err))
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", errors.Join(berr.ErrConfiguration, err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks drivers and required fields.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Buses) == 0 {
		errs = append(errs, errors.New("at least one bus is required"))
	}

	for _, sel := range sortedKeys(c.Buses) {
		b := c.Buses[sel]

		switch b.Driver {
		case DriverInMemory, DriverDBus:
		case DriverNATS:
			if b.NATS.URL == "" {
				errs = append(errs, fmt.Errorf("bus %q: nats.url is required", sel))
			}
		default:
			errs = append(errs, fmt.Errorf("bus %q: unknown driver %q", sel, b.Driver))
		}
	}

	for i, s := range c.Sinks {
		switch s.Driver {
		case SinkRabbitMQ:
			if s.RabbitMQ.URL == "" {
				errs = append(errs, fmt.Errorf("sink %d: rabbitmq.url is required", i))
			}
		case SinkKafka:
			if len(s.Kafka.Brokers) == 0 {
				errs = append(errs, fmt.Errorf("sink %d: kafka.brokers is required", i))
			}

			if _, err := kafkaAcks(s.Kafka.Acks); err != nil {
				errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
			}

			if _, err := kafkaCompression(s.Kafka.Compression); err != nil {
				errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
			}
		default:
			errs = append(errs, fmt.Errorf("sink %d: unknown driver %q", i, s.Driver))
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("invalid config: %w", errors.Join(append([]error{berr.ErrConfiguration}, errs...)...))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
