package nats

import (
	"time"

	"github.com/solguard/solguard/service/scan"
)

// ScanAlertEvent represents a high-risk scan verdict published to NATS.
// This is published to the subject "scans.{wallet_address}" in JetStream.
type ScanAlertEvent struct {
	// Scan identifiers
	Fingerprint string `json:"fingerprint"`

	// Wallet information
	WalletAddress string `json:"wallet_address"`

	// Verdict details
	RiskLevel        scan.RiskLevel `json:"risk_level"`
	OverallRiskScore float64        `json:"overall_risk_score"`
	Findings         []scan.Finding `json:"findings,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}
