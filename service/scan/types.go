package scan

import (
	"context"
	"time"
)

// StageName identifies one of the four analysis stages.
type StageName string

const (
	StageProgram StageName = "program"
	StagePattern StageName = "pattern"
	StageML      StageName = "ml"
	StageAccount StageName = "account"
)

// StageOrder is the declaration order of stages. Findings are sorted by
// severity first and by this order second, so verdicts are stable
// regardless of stage completion order.
var StageOrder = []StageName{StageProgram, StagePattern, StageML, StageAccount}

// StageStatus describes how a stage concluded.
type StageStatus string

const (
	StatusOK       StageStatus = "ok"
	StatusDegraded StageStatus = "degraded"
	StatusTimedOut StageStatus = "timed_out"
	StatusErrored  StageStatus = "errored"
)

// Severity of a finding, ordered from least to most severe.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank maps severities to a sortable order.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric order of a severity. Unknown severities rank
// below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Finding is a specific signal reported by a stage, e.g. a matched
// exploit signature or a blacklisted program.
type Finding struct {
	Kind        string   `json:"kind"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Evidence    string   `json:"evidence"`
}

// StageResult is the output of a single analysis stage. It is produced
// exactly once per stage per scan and never mutated afterward. Score is
// meaningful only when Status is ok; for any other status the stage
// contributes the aggregator's neutral score.
type StageResult struct {
	Stage     StageName   `json:"stage"`
	Status    StageStatus `json:"status"`
	Score     float64     `json:"score"`
	Findings  []Finding   `json:"findings,omitempty"`
	ElapsedMs float64     `json:"elapsed_ms"`
}

// NeutralResult builds a placeholder result for a stage that degraded,
// timed out, or errored.
func NeutralResult(stage StageName, status StageStatus, elapsed time.Duration) *StageResult {
	return &StageResult{
		Stage:     stage,
		Status:    status,
		ElapsedMs: float64(elapsed.Microseconds()) / 1000.0,
	}
}

// Instruction is one instruction of a parsed transaction. Data is the
// hex encoding of the instruction payload.
type Instruction struct {
	Index    int      `json:"index"`
	Data     string   `json:"data"`
	Accounts []string `json:"accounts"`
}

// ParsedTransaction is the canonical form of a transaction. It is
// created once by Parse and treated as immutable afterward; all stages
// read the same instance. Slices default to empty, never nil, so an
// empty input parses to an all-empty value rather than an error.
type ParsedTransaction struct {
	Programs        []string      `json:"programs"`
	Instructions    []Instruction `json:"instructions"`
	Accounts        []string      `json:"accounts"`
	Signatures      []string      `json:"signatures,omitempty"`
	RecentBlockhash string        `json:"recent_blockhash,omitempty"`
}

// RiskLevel is the banded risk classification of a verdict.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ScanType selects the analysis profile. Quick skips the ML stage and
// tightens stage timeouts; comprehensive relaxes them. The aggregation
// contract is identical for all types.
type ScanType string

const (
	ScanQuick         ScanType = "quick"
	ScanDeep          ScanType = "deep"
	ScanComprehensive ScanType = "comprehensive"
)

// ValidScanType reports whether t is a recognized scan type.
func ValidScanType(t ScanType) bool {
	switch t {
	case ScanQuick, ScanDeep, ScanComprehensive:
		return true
	}
	return false
}

// StageDiagnostic is the per-stage summary embedded in a verdict.
type StageDiagnostic struct {
	Status    StageStatus `json:"status"`
	Score     float64     `json:"score"`
	Findings  int         `json:"findings"`
	ElapsedMs float64     `json:"elapsed_ms"`
}

// Verdict is the final output of a scan. Immutable once produced.
type Verdict struct {
	OverallRiskScore  float64                       `json:"overall_risk_score"`
	RiskLevel         RiskLevel                     `json:"risk_level"`
	TriggeredFindings []Finding                     `json:"triggered_findings"`
	StageDiagnostics  map[StageName]StageDiagnostic `json:"stage_diagnostics"`
	ElapsedMs         float64                       `json:"elapsed_ms"`
	CacheHit          bool                          `json:"cache_hit"`
}

// Request is the transport-agnostic scan request.
type Request struct {
	Transaction RawInput `json:"transaction"`
	Wallet      string   `json:"wallet"`
	ScanType    ScanType `json:"scan_type"`
}

// Stage is one independent analyzer contributing to a verdict. Analyze
// must treat tx as read-only and must honor ctx cancellation; the
// orchestrator enforces the soft timeout through ctx.
type Stage interface {
	Name() StageName
	Analyze(ctx context.Context, tx *ParsedTransaction, wallet string) (*StageResult, error)
}
