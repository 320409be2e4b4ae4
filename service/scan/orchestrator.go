package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/solguard/solguard/service/metrics"
)

// VerdictCache memoizes verdicts by fingerprint. GetOrCompute must
// guarantee at most one concurrent computation per fingerprint,
// sharing the in-flight result with concurrent callers. Backend
// failures must fall back to direct computation, never fail the scan.
type VerdictCache interface {
	GetOrCompute(ctx context.Context, fingerprint string, ttl time.Duration, compute func(context.Context) (*Verdict, error)) (verdict *Verdict, cacheHit bool, err error)
}

// AlertPublisher receives verdicts the orchestrator considers worth
// alerting on (high and critical risk). Publishing is best effort.
type AlertPublisher interface {
	PublishScanAlert(ctx context.Context, wallet, fingerprint string, verdict *Verdict) error
}

// Timeouts groups the per-stage soft timeouts and the total deadline.
type Timeouts struct {
	// Deadline bounds the whole scan, parse through aggregation.
	Deadline time.Duration

	// Stage soft timeouts. A stage exceeding its bound is recorded as
	// timed out and excluded from further waiting.
	Program time.Duration
	Pattern time.Duration
	ML      time.Duration
	Account time.Duration

	// Scan-type multipliers applied to the stage timeouts. Quick scans
	// tighten them, comprehensive scans relax them.
	QuickFactor         float64
	ComprehensiveFactor float64
}

// DefaultTimeouts returns the timeout profile the service ships with.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Deadline:            2 * time.Second,
		Program:             500 * time.Millisecond,
		Pattern:             400 * time.Millisecond,
		ML:                  600 * time.Millisecond,
		Account:             300 * time.Millisecond,
		QuickFactor:         0.5,
		ComprehensiveFactor: 2.0,
	}
}

func (t Timeouts) forStage(name StageName) time.Duration {
	switch name {
	case StageProgram:
		return t.Program
	case StagePattern:
		return t.Pattern
	case StageML:
		return t.ML
	case StageAccount:
		return t.Account
	default:
		return t.Program
	}
}

// Options configures the orchestrator.
type Options struct {
	Timeouts Timeouts
	CacheTTL time.Duration
}

// Orchestrator drives a scan: admission, cache lookup, parse, stage
// fan-out under the deadline, aggregation, cache write. Stages and
// collaborators are injected at construction so tests substitute
// fakes without runtime patching.
type Orchestrator struct {
	stages     []Stage
	aggregator *Aggregator
	cache      VerdictCache
	admission  *AdmissionController
	publisher  AlertPublisher   // optional: if nil, no alerts are published
	metrics    *metrics.Metrics // optional: if nil, no metrics are recorded
	opts       Options
	logger     *slog.Logger
}

// NewOrchestrator wires the scan pipeline. The stage slice determines
// which analyzers run; the aggregator, cache, and admission controller
// are required, publisher and metrics may be nil.
func NewOrchestrator(stages []Stage, aggregator *Aggregator, cache VerdictCache, admission *AdmissionController, publisher AlertPublisher, m *metrics.Metrics, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeouts.Deadline <= 0 {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Orchestrator{
		stages:     stages,
		aggregator: aggregator,
		cache:      cache,
		admission:  admission,
		publisher:  publisher,
		metrics:    m,
		opts:       opts,
		logger:     logger,
	}
}

// Scan runs one scan request end to end. Outcomes:
//   - verdict, nil: scan completed (CacheHit reports reuse)
//   - nil, ErrOverloaded: rejected at admission, no work performed
//   - nil, ErrScanTimeout: deadline elapsed before aggregation
//   - nil, *ParseError / *ValidationError: malformed input, no stages ran
func (o *Orchestrator) Scan(ctx context.Context, req Request) (*Verdict, error) {
	start := time.Now()

	scanType := req.ScanType
	if scanType == "" {
		scanType = ScanDeep
	}
	if !ValidScanType(scanType) {
		return nil, &ValidationError{Reason: "unknown scan type: " + string(scanType)}
	}

	// Admission gates entry before any other work. Saturation rejects
	// immediately; nothing queues.
	if !o.admission.TryAcquire() {
		if o.metrics != nil {
			o.metrics.RecordAdmissionRejected()
			o.metrics.RecordScan(string(scanType), "rejected", false, time.Since(start).Seconds())
		}
		return nil, ErrOverloaded
	}
	defer o.admission.Release()
	if o.metrics != nil {
		o.metrics.RecordInFlightChange(1)
		defer o.metrics.RecordInFlightChange(-1)
	}

	fingerprint := Fingerprint(req.Transaction, req.Wallet, scanType)

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeouts.Deadline)
	defer cancel()

	verdict, cacheHit, err := o.cache.GetOrCompute(ctx, fingerprint, o.opts.CacheTTL, func(ctx context.Context) (*Verdict, error) {
		return o.compute(ctx, req, scanType, start)
	})
	if err != nil {
		outcome := "failed"
		switch {
		case errors.Is(err, ErrScanTimeout) || errors.Is(err, context.DeadlineExceeded):
			err = ErrScanTimeout
			outcome = "timeout"
		case IsInputError(err):
			outcome = "invalid"
		}
		if o.metrics != nil {
			o.metrics.RecordScan(string(scanType), outcome, false, time.Since(start).Seconds())
		}
		return nil, err
	}

	if cacheHit {
		// Cached verdicts are shared; report the hit on a copy so the
		// stored entry stays immutable.
		copied := *verdict
		copied.CacheHit = true
		copied.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0
		verdict = &copied
	}

	if o.metrics != nil {
		outcome := "completed"
		if cacheHit {
			outcome = "cached"
		}
		o.metrics.RecordScan(string(scanType), outcome, cacheHit, time.Since(start).Seconds())
		o.metrics.RecordVerdict(string(verdict.RiskLevel))
	}

	if !cacheHit {
		o.maybePublishAlert(req.Wallet, fingerprint, verdict)
	}

	return verdict, nil
}

// compute is the cache-miss path: parse, fan out, aggregate.
func (o *Orchestrator) compute(ctx context.Context, req Request, scanType ScanType, start time.Time) (*Verdict, error) {
	tx, err := Parse(req.Transaction)
	if err != nil {
		// Parse failures are fatal for the request; no stages run.
		return nil, err
	}

	results := o.fanOut(ctx, tx, req.Wallet, scanType)

	// The deadline elapsing before aggregation is a distinct timeout
	// outcome, not a partial verdict.
	if ctx.Err() != nil {
		return nil, ErrScanTimeout
	}

	verdict := o.aggregator.Aggregate(results)
	verdict.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0

	if o.metrics != nil {
		for _, f := range verdict.TriggeredFindings {
			o.metrics.RecordFinding(f.Kind, string(f.Severity))
		}
	}

	return verdict, nil
}

// stagesFor selects the stages for a scan type. Quick scans skip the
// ML stage, the heaviest of the four.
func (o *Orchestrator) stagesFor(scanType ScanType) []Stage {
	if scanType != ScanQuick {
		return o.stages
	}
	selected := make([]Stage, 0, len(o.stages))
	for _, s := range o.stages {
		if s.Name() == StageML {
			continue
		}
		selected = append(selected, s)
	}
	return selected
}

func (o *Orchestrator) stageTimeout(name StageName, scanType ScanType) time.Duration {
	timeout := o.opts.Timeouts.forStage(name)
	switch scanType {
	case ScanQuick:
		if o.opts.Timeouts.QuickFactor > 0 {
			timeout = time.Duration(float64(timeout) * o.opts.Timeouts.QuickFactor)
		}
	case ScanComprehensive:
		if o.opts.Timeouts.ComprehensiveFactor > 0 {
			timeout = time.Duration(float64(timeout) * o.opts.Timeouts.ComprehensiveFactor)
		}
	}
	return timeout
}

// fanOut runs the selected stages concurrently, each under its own
// soft timeout, and joins them. Every slot resolves by the earlier of
// stage completion, its soft timeout, or the scan deadline, so the
// join is bounded. Stages share the immutable tx and nothing else.
func (o *Orchestrator) fanOut(ctx context.Context, tx *ParsedTransaction, wallet string, scanType ScanType) []*StageResult {
	stages := o.stagesFor(scanType)
	results := make([]*StageResult, len(stages))

	var wg sync.WaitGroup
	for i, stage := range stages {
		wg.Add(1)
		go func(i int, stage Stage) {
			defer wg.Done()
			results[i] = o.runStage(ctx, stage, tx, wallet, o.stageTimeout(stage.Name(), scanType))
		}(i, stage)
	}
	wg.Wait()

	return results
}

// runStage executes one stage under its soft timeout. Errors isolate
// to the stage: they become a degraded/timed-out/errored result with
// neutral scoring weight instead of failing the scan. A stage still
// running past its bound is abandoned and its eventual result
// discarded.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, tx *ParsedTransaction, wallet string, timeout time.Duration) *StageResult {
	start := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *StageResult, 1)
	go func() {
		res, err := stage.Analyze(stageCtx, tx, wallet)
		if err != nil {
			status := StatusErrored
			switch {
			case errors.Is(err, ErrModelNotReady):
				status = StatusDegraded
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				status = StatusTimedOut
			}
			o.logger.Warn("stage failed",
				"stage", stage.Name(),
				"status", status,
				"error", err,
			)
			res = NeutralResult(stage.Name(), status, time.Since(start))
		}
		done <- res
	}()

	var result *StageResult
	select {
	case result = <-done:
		if result.ElapsedMs == 0 {
			result.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	case <-stageCtx.Done():
		o.logger.Warn("stage exceeded soft timeout",
			"stage", stage.Name(),
			"timeout", timeout,
		)
		result = NeutralResult(stage.Name(), StatusTimedOut, time.Since(start))
	}

	if o.metrics != nil {
		o.metrics.RecordStage(string(stage.Name()), string(result.Status), time.Since(start).Seconds())
	}
	return result
}

// maybePublishAlert pushes high and critical verdicts to the alert
// stream. Failures are logged, never surfaced to the scan caller.
func (o *Orchestrator) maybePublishAlert(wallet, fingerprint string, verdict *Verdict) {
	if o.publisher == nil {
		return
	}
	if verdict.RiskLevel != RiskHigh && verdict.RiskLevel != RiskCritical {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.publisher.PublishScanAlert(ctx, wallet, fingerprint, verdict); err != nil {
			o.logger.Error("failed to publish scan alert",
				"wallet", wallet,
				"fingerprint", fingerprint,
				"risk_level", verdict.RiskLevel,
				"error", err,
			)
		}
	}()
}
