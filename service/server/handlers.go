package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/solguard/solguard/service/ml"
	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/registry"
	"github.com/solguard/solguard/service/scan"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a serialized transaction
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// scanRequest is the wire form of a scan request.
type scanRequest struct {
	Transaction scan.RawInput `json:"transaction"`
	Wallet      string        `json:"wallet,omitempty"`
	ScanType    scan.ScanType `json:"scan_type,omitempty"`
}

// handleScan returns a handler that runs a transaction scan.
// POST /api/v1/scan
//
// Outcome mapping:
//   - completed scan: 200 with the verdict (even a critical one)
//   - malformed input: 400 with the parse/validation reason
//   - deadline exceeded: 504 scan_timeout
//   - admission rejected: 503 overloaded with Retry-After
func handleScan(orchestrator *scan.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("malformed scan request body", "error", err)
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if req.Wallet != "" {
			if err := validateAddress(req.Wallet); err != nil {
				logger.Debug("invalid wallet address", "wallet", req.Wallet, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		verdict, err := orchestrator.Scan(r.Context(), scan.Request{
			Transaction: req.Transaction,
			Wallet:      req.Wallet,
			ScanType:    req.ScanType,
		})
		if err != nil {
			switch {
			case errors.Is(err, scan.ErrOverloaded):
				w.Header().Set("Retry-After", "1")
				writeError(w, "overloaded: scan capacity saturated", http.StatusServiceUnavailable)
			case errors.Is(err, scan.ErrScanTimeout):
				writeError(w, "scan_timeout: deadline exceeded before a verdict", http.StatusGatewayTimeout)
			case scan.IsInputError(err):
				writeError(w, err.Error(), http.StatusBadRequest)
			default:
				logger.Error("scan failed", "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		logger.Debug("scan completed",
			"risk_level", verdict.RiskLevel,
			"risk_score", verdict.OverallRiskScore,
			"cache_hit", verdict.CacheHit,
			"elapsed_ms", verdict.ElapsedMs,
		)
		writeJSON(w, verdict, http.StatusOK)
	})
}

// handleListPatterns returns a handler that lists exploit patterns.
// GET /api/v1/patterns
func handleListPatterns(store *patterns.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		list, err := store.List(r.Context())
		if err != nil {
			logger.Error("failed to list patterns", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("patterns listed", "count", len(list))
		writeJSON(w, map[string]interface{}{
			"patterns": list,
		}, http.StatusOK)
	})
}

// handleUpsertPattern returns a handler that creates or replaces a
// pattern and refreshes the in-memory matcher and program blacklist.
// POST /api/v1/patterns
func handleUpsertPattern(store *patterns.Store, reg *registry.ProgramRegistry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var p patterns.Pattern
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := store.Upsert(r.Context(), p); err != nil {
			logger.Debug("pattern rejected", "pattern_id", p.ID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := store.Load(r.Context()); err != nil {
			logger.Error("failed to reload patterns after upsert", "error", err)
			writeError(w, "pattern stored but reload failed", http.StatusInternalServerError)
			return
		}
		refreshBlacklist(r.Context(), store, reg, logger)

		logger.Info("pattern upserted", "pattern_id", p.ID, "tier", p.Tier)
		writeJSON(w, p, http.StatusOK)
	})
}

// handleDeactivatePattern returns a handler that deactivates a pattern.
// DELETE /api/v1/patterns/{id}
func handleDeactivatePattern(store *patterns.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "pattern id is required", http.StatusBadRequest)
			return
		}

		if err := store.Deactivate(r.Context(), id); err != nil {
			if strings.Contains(err.Error(), "not found") {
				writeError(w, "pattern not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to deactivate pattern", "pattern_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if err := store.Load(r.Context()); err != nil {
			logger.Error("failed to reload patterns after deactivation", "error", err)
			writeError(w, "pattern deactivated but reload failed", http.StatusInternalServerError)
			return
		}

		logger.Info("pattern deactivated", "pattern_id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleStatus returns a handler reporting pipeline health: model
// lifecycle state, loaded pattern count, registry sizes, and admission
// occupancy.
// GET /api/v1/status
func handleStatus(store *patterns.Store, reg *registry.ProgramRegistry, model *ml.RuleModel, admission *scan.AdmissionController, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verified, blacklisted := reg.Counts()
		writeJSON(w, map[string]interface{}{
			"model_state":          model.StateNow(),
			"model_version":        model.Version(),
			"patterns_loaded":      store.Matcher().Len(),
			"verified_programs":    verified,
			"blacklisted_programs": blacklisted,
			"scans_in_flight":      admission.InFlight(),
			"scan_limit":           admission.Limit(),
		}, http.StatusOK)
	})
}

// refreshBlacklist syncs the program registry's blacklist from the
// pattern store's critical tier. Failures are logged, not surfaced.
func refreshBlacklist(ctx context.Context, store *patterns.Store, reg *registry.ProgramRegistry, logger *slog.Logger) {
	ids, err := store.BlacklistedPrograms(ctx)
	if err != nil {
		logger.Error("failed to refresh program blacklist", "error", err)
		return
	}
	reg.ReplaceBlacklist(ids)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf creates a formatted error.
func errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
