package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/scan"
)

const schema = `
CREATE TABLE IF NOT EXISTS exploit_patterns (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    tier        TEXT NOT NULL,
    severity    TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    program_id  TEXT NOT NULL DEFAULT '',
    data_regex  TEXT NOT NULL DEFAULT '',
    rules       JSONB,
    description TEXT NOT NULL DEFAULT '',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS exploit_patterns_active_idx ON exploit_patterns (active);
`

// Store persists exploit patterns in Postgres and serves matching from
// an in-memory Matcher. Load and Reload refresh the matcher; the
// database is never queried during a scan.
type Store struct {
	pool    *pgxpool.Pool
	matcher *Matcher
	logger  *slog.Logger
}

// NewStore creates a pattern store. The matcher starts empty; call
// Load to populate it from the database.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:    pool,
		matcher: NewMatcher(m),
		logger:  logger,
	}
}

// Matcher exposes the in-memory matcher, mainly for the analysis stage
// and tests.
func (s *Store) Matcher() *Matcher { return s.matcher }

// EnsureSchema creates the pattern table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure exploit_patterns schema: %w", err)
	}
	return nil
}

// Load reads all active patterns from the database into the matcher.
func (s *Store) Load(ctx context.Context) error {
	patterns, err := s.list(ctx, true)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	loaded, err := s.matcher.Reload(patterns)
	if err != nil {
		s.logger.Warn("some patterns failed to load", "loaded", loaded, "error", err)
	}
	s.logger.Info("exploit patterns loaded", "count", loaded)
	return nil
}

// Match evaluates the loaded patterns against tx.
func (s *Store) Match(ctx context.Context, tx *scan.ParsedTransaction) ([]scan.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.matcher.Match(tx), nil
}

// Upsert inserts or replaces a pattern. It does not refresh the
// matcher; call Load afterwards to pick up the change.
func (s *Store) Upsert(ctx context.Context, p Pattern) error {
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("upsert pattern: id and name are required")
	}
	if !ValidTier(p.Tier) {
		return fmt.Errorf("upsert pattern %s: unknown tier %q", p.ID, p.Tier)
	}
	var rules []byte
	if len(p.Rules) > 0 {
		var err error
		rules, err = json.Marshal(p.Rules)
		if err != nil {
			return fmt.Errorf("upsert pattern %s: encode rules: %w", p.ID, err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exploit_patterns (id, name, tier, severity, confidence, program_id, data_regex, rules, description, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			program_id = EXCLUDED.program_id,
			data_regex = EXCLUDED.data_regex,
			rules = EXCLUDED.rules,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			updated_at = now()`,
		p.ID, p.Name, string(p.Tier), string(p.Severity), p.Confidence,
		p.ProgramID, p.DataRegex, rules, p.Description, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert pattern %s: %w", p.ID, err)
	}
	return nil
}

// Deactivate marks a pattern inactive so the next Load drops it.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exploit_patterns SET active = FALSE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate pattern %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate pattern %s: not found", id)
	}
	return nil
}

// List returns all patterns, active and inactive.
func (s *Store) List(ctx context.Context) ([]Pattern, error) {
	return s.list(ctx, false)
}

// BlacklistedPrograms returns the program IDs of active critical-tier
// patterns, used to refresh the program registry.
func (s *Store) BlacklistedPrograms(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT program_id FROM exploit_patterns
		 WHERE active AND tier = $1 AND program_id <> ''`, string(TierCritical))
	if err != nil {
		return nil, fmt.Errorf("list blacklisted programs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blacklisted program: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) list(ctx context.Context, activeOnly bool) ([]Pattern, error) {
	query := `SELECT id, name, tier, severity, confidence, program_id, data_regex, rules, description, active, updated_at
		FROM exploit_patterns`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func scanPattern(row pgx.Row) (Pattern, error) {
	var (
		p         Pattern
		tier      string
		severity  string
		rules     []byte
		updatedAt time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &tier, &severity, &p.Confidence,
		&p.ProgramID, &p.DataRegex, &rules, &p.Description, &p.Active, &updatedAt); err != nil {
		return Pattern{}, fmt.Errorf("scan pattern row: %w", err)
	}
	p.Tier = Tier(tier)
	p.Severity = scan.Severity(severity)
	p.UpdatedAt = updatedAt
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &p.Rules); err != nil {
			return Pattern{}, fmt.Errorf("decode rules for pattern %s: %w", p.ID, err)
		}
	}
	return p, nil
}
