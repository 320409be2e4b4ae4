package nats

import (
	"context"
	"sync"
	"time"

	"github.com/solguard/solguard/service/scan"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*ScanAlertEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*ScanAlertEvent, 0),
	}
}

// PublishAlert records the event and returns any configured error.
func (m *MockPublisher) PublishAlert(ctx context.Context, event *ScanAlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishScanAlert adapts the mock to the orchestrator's alert hook.
func (m *MockPublisher) PublishScanAlert(ctx context.Context, wallet, fingerprint string, verdict *scan.Verdict) error {
	return m.PublishAlert(ctx, &ScanAlertEvent{
		Fingerprint:      fingerprint,
		WalletAddress:    wallet,
		RiskLevel:        verdict.RiskLevel,
		OverallRiskScore: verdict.OverallRiskScore,
		Findings:         verdict.TriggeredFindings,
		PublishedAt:      time.Now().UTC(),
	})
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*ScanAlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*ScanAlertEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForWallet returns events published for a specific wallet.
func (m *MockPublisher) GetPublishedEventsForWallet(address string) []*ScanAlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ScanAlertEvent, 0)
	for _, event := range m.publishedEvents {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishAlert.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*ScanAlertEvent, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
