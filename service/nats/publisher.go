package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/scan"
)

// Publisher defines the interface for publishing scan alerts to NATS.
type Publisher interface {
	// PublishAlert publishes a single scan alert event to JetStream.
	// The event is published to the subject "scans.{wallet_address}".
	PublishAlert(ctx context.Context, event *ScanAlertEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes scan alert events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for scan alerts.
	StreamName = "SCAN_ALERTS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "scans.*"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solguard-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "High-risk scan verdicts for Solana transactions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// alertSubject builds the per-wallet subject. Scans without a wallet
// land on a placeholder token because an empty token is not a valid
// NATS subject.
func alertSubject(wallet string) string {
	if wallet == "" {
		return "scans.unknown"
	}
	return fmt.Sprintf("scans.%s", wallet)
}

// PublishAlert publishes a single scan alert event.
func (p *JetStreamPublisher) PublishAlert(ctx context.Context, event *ScanAlertEvent) error {
	subject := alertSubject(event.WalletAddress)
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal scan alert event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish scan alert: %w", err)
	}

	p.logger.Debug("published scan alert event",
		"subject", subject,
		"fingerprint", event.Fingerprint,
		"risk_level", event.RiskLevel,
	)

	return nil
}

// PublishScanAlert adapts the publisher to the orchestrator's alert
// hook, building the event from the verdict.
func (p *JetStreamPublisher) PublishScanAlert(ctx context.Context, wallet, fingerprint string, verdict *scan.Verdict) error {
	return p.PublishAlert(ctx, &ScanAlertEvent{
		Fingerprint:      fingerprint,
		WalletAddress:    wallet,
		RiskLevel:        verdict.RiskLevel,
		OverallRiskScore: verdict.OverallRiskScore,
		Findings:         verdict.TriggeredFindings,
		PublishedAt:      time.Now().UTC(),
	})
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
