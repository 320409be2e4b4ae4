package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solguard/solguard/service/history"
	"github.com/solguard/solguard/service/scan"
)

// HistoryService looks up account reputation records. A nil service is
// valid; the stage then runs on local heuristics alone.
// *history.RedisHistory satisfies this.
type HistoryService interface {
	Lookup(ctx context.Context, address string) (*history.Reputation, error)
}

const (
	// maxHistoryLookups bounds per-scan reputation lookups so a wide
	// account set cannot blow the stage timeout.
	maxHistoryLookups = 20

	unlimitedApprovalWeight = 0.35
	authorityChangeWeight   = 0.25
	flaggedAccountWeight    = 0.4
	duplicateAccountWeight  = 0.1
	walletExposureWeight    = 0.1
)

// AccountStage scores a transaction by account-level heuristics and
// reputation history. When history is unavailable or fails, the stage
// degrades to its local heuristics instead of failing.
type AccountStage struct {
	history HistoryService
	logger  *slog.Logger
}

func NewAccountStage(h HistoryService, logger *slog.Logger) *AccountStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountStage{history: h, logger: logger}
}

func (s *AccountStage) Name() scan.StageName { return scan.StageAccount }

func (s *AccountStage) Analyze(ctx context.Context, tx *scan.ParsedTransaction, wallet string) (*scan.StageResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	score, findings := s.localHeuristics(tx, wallet)
	status := scan.StatusOK

	if s.history != nil {
		histScore, histFindings, err := s.lookupReputations(ctx, tx)
		if err != nil {
			// Reputation data is an enrichment; losing it reduces
			// confidence but keeps the local signal.
			s.logger.Warn("account history unavailable, degrading to local heuristics", "error", err)
			status = scan.StatusDegraded
		} else {
			score += histScore
			findings = append(findings, histFindings...)
		}
	}

	if score > 1 {
		score = 1
	}
	return &scan.StageResult{
		Stage:     scan.StageAccount,
		Status:    status,
		Score:     score,
		Findings:  findings,
		ElapsedMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// localHeuristics inspects instruction payloads and the account set
// without any external lookups.
func (s *AccountStage) localHeuristics(tx *scan.ParsedTransaction, wallet string) (float64, []scan.Finding) {
	var score float64
	var findings []scan.Finding

	for _, ins := range tx.Instructions {
		if strings.Contains(ins.Data, "ffffff") {
			score += unlimitedApprovalWeight
			findings = append(findings, scan.Finding{
				Kind:        "unlimited-approval",
				Severity:    scan.SeverityHigh,
				Description: "instruction payload carries a maximal approval amount",
				Evidence:    fmt.Sprintf("instruction=%d", ins.Index),
			})
			break
		}
	}

	for _, ins := range tx.Instructions {
		// Payloads beyond 32 bytes are the shape of authority and
		// ownership reassignment calls.
		if len(ins.Data) > 64 {
			score += authorityChangeWeight
			findings = append(findings, scan.Finding{
				Kind:        "authority-change",
				Severity:    scan.SeverityMedium,
				Description: "instruction payload shaped like an authority reassignment",
				Evidence:    fmt.Sprintf("instruction=%d bytes=%d", ins.Index, len(ins.Data)/2),
			})
			break
		}
	}

	unique := make(map[string]struct{}, len(tx.Accounts))
	for _, a := range tx.Accounts {
		unique[a] = struct{}{}
	}
	if len(unique) < len(tx.Accounts) {
		score += duplicateAccountWeight
		findings = append(findings, scan.Finding{
			Kind:        "duplicate-accounts",
			Severity:    scan.SeverityLow,
			Description: "account appears multiple times in the transaction",
			Evidence:    fmt.Sprintf("accounts=%d unique=%d", len(tx.Accounts), len(unique)),
		})
	}

	if wallet != "" && score > 0 {
		if _, involved := unique[wallet]; involved {
			score += walletExposureWeight
			findings = append(findings, scan.Finding{
				Kind:        "wallet-exposed",
				Severity:    scan.SeverityInfo,
				Description: "scanned wallet is directly referenced by a risky transaction",
				Evidence:    "wallet=" + wallet,
			})
		}
	}

	return score, findings
}

// lookupReputations checks each distinct account against the history
// service, bounded by maxHistoryLookups.
func (s *AccountStage) lookupReputations(ctx context.Context, tx *scan.ParsedTransaction) (float64, []scan.Finding, error) {
	var score float64
	var findings []scan.Finding

	seen := make(map[string]struct{}, len(tx.Accounts))
	looked := 0
	for _, addr := range tx.Accounts {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		if looked >= maxHistoryLookups {
			break
		}
		looked++

		rep, err := s.history.Lookup(ctx, addr)
		if err != nil {
			return 0, nil, err
		}
		if rep == nil || !rep.Flagged {
			continue
		}
		score += flaggedAccountWeight
		findings = append(findings, scan.Finding{
			Kind:        "flagged-account",
			Severity:    scan.SeverityHigh,
			Description: "transaction references an account flagged by threat intel",
			Evidence:    fmt.Sprintf("account=%s label=%s", addr, rep.Label),
		})
	}
	return score, findings, nil
}
