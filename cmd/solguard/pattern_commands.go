package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/solguard/solguard/client"
	"github.com/solguard/solguard/service/patterns"
)

func listPatternsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List exploit patterns on the server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "active-only",
				Usage: "Only show active patterns",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cl := patternClient(c)

			list, err := cl.ListPatterns(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list patterns: %w", err)
			}

			if c.Bool("active-only") {
				filtered := list[:0]
				for _, p := range list {
					if p.Active {
						filtered = append(filtered, p)
					}
				}
				list = filtered
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(list, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIER\tSEVERITY\tCONFIDENCE\tACTIVE\tNAME")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%v\t%s\n",
					p.ID, p.Tier, p.Severity, p.Confidence, p.Active, p.Name)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d patterns\n", len(list))
			return nil
		},
	}
}

func upsertPatternCommand() *cli.Command {
	return &cli.Command{
		Name:      "upsert",
		Aliases:   []string{"put"},
		Usage:     "Create or replace an exploit pattern",
		ArgsUsage: "[PATTERN_FILE]",
		Description: `Upsert a pattern from a JSON file, or from stdin when no file is
given. The server validates the pattern and reloads its matcher.`,
		Action: func(c *cli.Context) error {
			var data []byte
			var err error
			if c.NArg() >= 1 {
				data, err = os.ReadFile(c.Args().Get(0))
				if err != nil {
					return fmt.Errorf("failed to read pattern file: %w", err)
				}
			} else {
				data, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read pattern from stdin: %w", err)
				}
			}

			var p patterns.Pattern
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("invalid pattern JSON: %w", err)
			}

			cl := patternClient(c)
			if err := cl.UpsertPattern(context.Background(), p); err != nil {
				return fmt.Errorf("failed to upsert pattern: %w", err)
			}

			if c.Bool("json") {
				out, _ := json.Marshal(map[string]interface{}{
					"pattern_id": p.ID,
					"tier":       p.Tier,
					"status":     "upserted",
				})
				fmt.Println(string(out))
			} else {
				fmt.Printf("✓ Pattern upserted\n")
				fmt.Printf("  ID:   %s\n", p.ID)
				fmt.Printf("  Tier: %s\n", p.Tier)
			}
			return nil
		},
	}
}

func deactivatePatternCommand() *cli.Command {
	return &cli.Command{
		Name:      "deactivate",
		Aliases:   []string{"rm", "disable"},
		Usage:     "Deactivate an exploit pattern",
		ArgsUsage: "PATTERN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("pattern id is required")
			}
			id := c.Args().Get(0)

			cl := patternClient(c)
			if err := cl.DeactivatePattern(context.Background(), id); err != nil {
				return fmt.Errorf("failed to deactivate pattern: %w", err)
			}

			if c.Bool("json") {
				out, _ := json.Marshal(map[string]string{
					"pattern_id": id,
					"status":     "deactivated",
				})
				fmt.Println(string(out))
			} else {
				fmt.Printf("✓ Pattern %s deactivated\n", id)
			}
			return nil
		},
	}
}

// patternClient builds a service client from the global flags.
func patternClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), newHTTPClient(10*time.Second), errLogger())
}
