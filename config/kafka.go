package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/next-trace/scg-hardbus/adapters/kafka"
	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// ClientConfig maps the YAML block onto kafka.Config. A TLS CA file is read here.
func (k Kafka) ClientConfig() (kafka.Config, error) {
	kc := kafka.Config{
		Brokers:    k.Brokers,
		Topic:      k.Topic,
		ClientID:   k.ClientID,
		Idempotent: k.Idempotent,
	}

	acks, err := kafkaAcks(k.Acks)
	if err != nil {
		return kafka.Config{}, err
	}

	kc.Acks = acks

	if kc.Compression, err = kafkaCompression(k.Compression); err != nil {
		return kafka.Config{}, err
	}

	if k.TLS != nil {
		if kc.TLS, err = k.TLS.config(); err != nil {
			return kafka.Config{}, err
		}
	}

	if k.SASL != nil {
		kc.SASL = &kafka.SASLConfig{
			Mechanism: k.SASL.Mechanism,
			Username:  k.SASL.Username,
			Password:  k.SASL.Password,
		}
	}

	return kc, nil
}

func kafkaAcks(s string) (*kgo.Acks, error) {
	var acks kgo.Acks

	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "all":
		acks = kgo.AllISRAcks()
	case "leader":
		acks = kgo.LeaderAck()
	case "none":
		acks = kgo.NoAck()
	default:
		return nil, fmt.Errorf("kafka.acks %q: %w", s, berr.ErrConfiguration)
	}

	return &acks, nil
}

func kafkaCompression(s string) (kgo.CompressionCodec, error) {
	switch strings.ToLower(s) {
	case "":
		return kgo.CompressionCodec{}, nil
	case "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.CompressionCodec{}, fmt.Errorf("kafka.compression %q: %w", s, berr.ErrConfiguration)
	}
}

func (t *KafkaTLS) config() (*tls.Config, error) {
	c := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}

	if t.CAFile == "" {
		return c, nil
	}

	pem, err := os.ReadFile(t.CAFile)
	if err != nil {
		return nil, fmt.Errorf("kafka.tls.ca_file: %w", errors.Join(berr.ErrConfiguration, err))
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("kafka.tls.ca_file %s: no certificates: %w", t.CAFile, berr.ErrConfiguration)
	}

	c.RootCAs = pool

	return c, nil
}
