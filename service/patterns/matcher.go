package patterns

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/scan"
)

type compiledPattern struct {
	Pattern
	dataRe *regexp.Regexp
}

// Matcher evaluates loaded patterns against parsed transactions. Reload
// swaps the whole pattern set atomically; Match takes only a read lock
// and allocates no shared state, so concurrent scans are safe.
type Matcher struct {
	mu sync.RWMutex

	critical    map[string][]*compiledPattern // by program ID
	program     map[string][]*compiledPattern // by program ID
	instruction []*compiledPattern
	behavioral  []*compiledPattern

	metrics *metrics.Metrics
}

// NewMatcher creates an empty matcher. m may be nil.
func NewMatcher(m *metrics.Metrics) *Matcher {
	return &Matcher{
		critical: make(map[string][]*compiledPattern),
		program:  make(map[string][]*compiledPattern),
		metrics:  m,
	}
}

// Reload replaces the active pattern set. Patterns that fail to compile
// are skipped and reported in the returned error; the valid remainder
// is still installed.
func (m *Matcher) Reload(patterns []Pattern) (int, error) {
	critical := make(map[string][]*compiledPattern)
	program := make(map[string][]*compiledPattern)
	var instruction, behavioral []*compiledPattern
	var errs []error

	loaded := 0
	for _, p := range patterns {
		cp := &compiledPattern{Pattern: p}
		switch p.Tier {
		case TierCritical:
			if p.ProgramID == "" {
				errs = append(errs, fmt.Errorf("pattern %s: critical tier requires program_id", p.ID))
				continue
			}
			critical[p.ProgramID] = append(critical[p.ProgramID], cp)
		case TierProgram:
			if p.ProgramID == "" {
				errs = append(errs, fmt.Errorf("pattern %s: program tier requires program_id", p.ID))
				continue
			}
			program[p.ProgramID] = append(program[p.ProgramID], cp)
		case TierInstruction:
			re, err := regexp.Compile(p.DataRegex)
			if err != nil {
				errs = append(errs, fmt.Errorf("pattern %s: compile data_regex: %w", p.ID, err))
				continue
			}
			cp.dataRe = re
			instruction = append(instruction, cp)
		case TierBehavioral:
			if len(p.Rules) == 0 {
				errs = append(errs, fmt.Errorf("pattern %s: behavioral tier requires rules", p.ID))
				continue
			}
			behavioral = append(behavioral, cp)
		default:
			errs = append(errs, fmt.Errorf("pattern %s: unknown tier %q", p.ID, p.Tier))
			continue
		}
		loaded++
	}

	m.mu.Lock()
	m.critical = critical
	m.program = program
	m.instruction = instruction
	m.behavioral = behavioral
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordPatternsLoaded(loaded)
	}
	if len(errs) > 0 {
		return loaded, fmt.Errorf("skipped %d invalid patterns: %w", len(errs), errs[0])
	}
	return loaded, nil
}

// Len reports the number of loaded patterns across all tiers.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.instruction) + len(m.behavioral)
	for _, ps := range m.critical {
		n += len(ps)
	}
	for _, ps := range m.program {
		n += len(ps)
	}
	return n
}

// Match evaluates all tiers against tx and returns the findings.
// Critical-tier matches always report critical severity.
func (m *Matcher) Match(tx *scan.ParsedTransaction) []scan.Finding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var findings []scan.Finding
	findings = append(findings, m.matchPrograms(tx)...)
	findings = append(findings, m.matchInstructions(tx)...)
	findings = append(findings, m.matchBehavioral(tx)...)
	return findings
}

func (m *Matcher) matchPrograms(tx *scan.ParsedTransaction) []scan.Finding {
	start := time.Now()
	var findings []scan.Finding
	seen := make(map[string]struct{}, len(tx.Programs))
	for _, prog := range tx.Programs {
		if _, dup := seen[prog]; dup {
			continue
		}
		seen[prog] = struct{}{}
		for _, p := range m.critical[prog] {
			findings = append(findings, scan.Finding{
				Kind:        "exploit-pattern",
				Severity:    scan.SeverityCritical,
				Description: p.Description,
				Evidence:    fmt.Sprintf("pattern=%s program=%s", p.ID, prog),
			})
		}
		for _, p := range m.program[prog] {
			findings = append(findings, scan.Finding{
				Kind:        "exploit-pattern",
				Severity:    p.Severity,
				Description: p.Description,
				Evidence:    fmt.Sprintf("pattern=%s program=%s", p.ID, prog),
			})
		}
	}
	m.recordTier("program", start)
	return findings
}

func (m *Matcher) matchInstructions(tx *scan.ParsedTransaction) []scan.Finding {
	start := time.Now()
	var findings []scan.Finding
	for _, p := range m.instruction {
		for _, ins := range tx.Instructions {
			if p.dataRe.MatchString(ins.Data) {
				findings = append(findings, scan.Finding{
					Kind:        "exploit-pattern",
					Severity:    p.Severity,
					Description: p.Description,
					Evidence:    fmt.Sprintf("pattern=%s instruction=%d", p.ID, ins.Index),
				})
				// One finding per pattern regardless of how many
				// instructions match.
				break
			}
		}
	}
	m.recordTier("instruction", start)
	return findings
}

func (m *Matcher) matchBehavioral(tx *scan.ParsedTransaction) []scan.Finding {
	start := time.Now()
	var findings []scan.Finding
	if len(m.behavioral) > 0 {
		metrics := behavioralMetrics(tx)
		for _, p := range m.behavioral {
			if rulesSatisfied(p.Rules, metrics) {
				findings = append(findings, scan.Finding{
					Kind:        "exploit-pattern",
					Severity:    p.Severity,
					Description: p.Description,
					Evidence:    fmt.Sprintf("pattern=%s", p.ID),
				})
			}
		}
	}
	m.recordTier("behavioral", start)
	return findings
}

func (m *Matcher) recordTier(tier string, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordPatternQuery(tier, time.Since(start).Seconds())
	}
}

// rulesSatisfied reports whether every rule threshold is met. Rules are
// minimum bounds: the metric value must be >= the threshold. A rule
// naming an unknown metric never matches.
func rulesSatisfied(rules, values map[string]float64) bool {
	for metric, threshold := range rules {
		v, ok := values[metric]
		if !ok || v < threshold {
			return false
		}
	}
	return true
}

// behavioralMetrics derives the shape metrics behavioral rules are
// written against. Data lengths count bytes of the decoded payload,
// hence hex length halved.
func behavioralMetrics(tx *scan.ParsedTransaction) map[string]float64 {
	unique := make(map[string]struct{}, len(tx.Accounts))
	for _, a := range tx.Accounts {
		unique[a] = struct{}{}
	}

	var totalData, maxData int
	for _, ins := range tx.Instructions {
		n := len(ins.Data) / 2
		totalData += n
		if n > maxData {
			maxData = n
		}
	}

	duplicates := 0.0
	if len(tx.Accounts) > len(unique) {
		duplicates = 1.0
	}

	return map[string]float64{
		"num_programs":     float64(len(tx.Programs)),
		"num_instructions": float64(len(tx.Instructions)),
		"num_accounts":     float64(len(tx.Accounts)),
		"unique_accounts":  float64(len(unique)),
		"max_data_bytes":   float64(maxData),
		"total_data_bytes": float64(totalData),
		"has_duplicates":   duplicates,
	}
}
