package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/solguard/solguard/client"
	"github.com/solguard/solguard/service/scan"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Scan a transaction and print the verdict",
		ArgsUsage: "[TRANSACTION_FILE]",
		Description: `Submit a transaction for scanning. The transaction payload is read
from TRANSACTION_FILE, or from stdin when no file is given. The payload
may be a structured JSON object or a base64-encoded wire transaction
wrapped in a JSON string.

The command exits non-zero when the scan cannot run, and also when
--fail-level is set and the verdict meets or exceeds that risk level.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "HTTP server URL (defaults to global --server-url)",
				EnvVars: []string{"SOLGUARD_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Wallet address to scan on behalf of",
			},
			&cli.StringFlag{
				Name:    "scan-type",
				Aliases: []string{"t"},
				Usage:   "Scan type: quick, deep, or comprehensive",
				Value:   "deep",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter the verdict must satisfy (can be repeated; all must be truthy)",
			},
			&cli.StringFlag{
				Name:  "fail-level",
				Usage: "Exit non-zero when the verdict reaches this risk level (low, medium, high, critical)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output verdict as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server")
			if serverURL == "" {
				serverURL = c.String("server-url")
			}
			wallet := c.String("wallet")
			scanType := scan.ScanType(c.String("scan-type"))
			jqFilters := c.StringSlice("must-jq")
			failLevel := c.String("fail-level")
			jsonOutput := c.Bool("json")

			payload, err := readTransactionPayload(c)
			if err != nil {
				return err
			}
			if !json.Valid(payload) {
				return fmt.Errorf("transaction payload is not valid JSON")
			}

			if failLevel != "" {
				if _, ok := riskRank[scan.RiskLevel(failLevel)]; !ok {
					return fmt.Errorf("invalid --fail-level %q", failLevel)
				}
			}

			// Compile jq filters
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))

			cl := client.NewClient(serverURL, nil, logger)

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			verdict, err := cl.Scan(ctx, payload, wallet, scanType)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if err := applyJQFilters(compiledJQFilters, jqFilters, verdict, logger); err != nil {
				return err
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(verdict, "", "  ")
				fmt.Println(string(data))
			} else {
				printVerdict(verdict)
			}

			if failLevel != "" && riskAtLeast(verdict.RiskLevel, scan.RiskLevel(failLevel)) {
				return fmt.Errorf("verdict risk level %s reached fail level %s", verdict.RiskLevel, failLevel)
			}
			return nil
		},
	}
}

// readTransactionPayload reads the transaction JSON from the first
// positional argument or stdin.
func readTransactionPayload(c *cli.Context) (json.RawMessage, error) {
	if c.NArg() >= 1 {
		data, err := os.ReadFile(c.Args().Get(0))
		if err != nil {
			return nil, fmt.Errorf("failed to read transaction file: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("transaction payload is required (file argument or stdin)")
	}
	return data, nil
}

// applyJQFilters runs every compiled filter against the verdict; all
// must evaluate to a truthy value.
func applyJQFilters(compiled []*gojq.Code, sources []string, verdict *scan.Verdict, logger *slog.Logger) error {
	if len(compiled) == 0 {
		return nil
	}

	// Round-trip the verdict through JSON so gojq sees plain maps.
	raw, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	var verdictJSON interface{}
	if err := json.Unmarshal(raw, &verdictJSON); err != nil {
		return fmt.Errorf("failed to decode verdict: %w", err)
	}

	for i, code := range compiled {
		iter := code.Run(verdictJSON)
		v, ok := iter.Next()
		if !ok {
			return fmt.Errorf("verdict did not satisfy filter %q: no result", sources[i])
		}
		if err, isErr := v.(error); isErr {
			logger.Debug("jq filter error", "filter", sources[i], "error", err)
			return fmt.Errorf("verdict did not satisfy filter %q: %w", sources[i], err)
		}
		if !isTruthy(v) {
			return fmt.Errorf("verdict did not satisfy filter %q", sources[i])
		}
	}
	return nil
}

// isTruthy follows jq semantics: null and false are falsy, everything
// else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// riskRank orders risk levels: safe < low < medium < high < critical.
var riskRank = map[scan.RiskLevel]int{
	scan.RiskSafe:     0,
	scan.RiskLow:      1,
	scan.RiskMedium:   2,
	scan.RiskHigh:     3,
	scan.RiskCritical: 4,
}

// riskAtLeast reports whether level is at or above threshold.
func riskAtLeast(level, threshold scan.RiskLevel) bool {
	return riskRank[level] >= riskRank[threshold]
}

func printVerdict(v *scan.Verdict) {
	fmt.Printf("Risk Level:  %s\n", v.RiskLevel)
	fmt.Printf("Risk Score:  %.3f\n", v.OverallRiskScore)
	fmt.Printf("Cache Hit:   %v\n", v.CacheHit)
	fmt.Printf("Elapsed:     %.1fms\n", v.ElapsedMs)

	if len(v.TriggeredFindings) > 0 {
		fmt.Printf("\nFindings:\n")
		for _, f := range v.TriggeredFindings {
			fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Kind, f.Description)
			if f.Evidence != "" {
				fmt.Printf("      %s\n", f.Evidence)
			}
		}
	}

	if len(v.StageDiagnostics) > 0 {
		fmt.Printf("\nStages:\n")
		for name, d := range v.StageDiagnostics {
			fmt.Printf("  %-8s %-9s score=%.3f findings=%d elapsed=%.1fms\n",
				name, d.Status, d.Score, d.Findings, d.ElapsedMs)
		}
	}
}
