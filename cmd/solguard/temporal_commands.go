package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/solguard/solguard/service/temporal"
)

func triggerRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:    "trigger-refresh",
		Usage:   "Run a threat intelligence refresh immediately",
		Aliases: []string{"refresh"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Temporal task queue the worker listens on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "solguard-threat-intel",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output result as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := temporal.NewClient(
				c.String("temporal-host"),
				c.String("temporal-namespace"),
				c.String("task-queue"),
				errLogger(),
			)
			if err != nil {
				return err
			}
			defer tc.Close()

			fmt.Fprintln(os.Stderr, "Running threat intel refresh...")

			result, err := tc.TriggerRefresh(context.Background())
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			printRefreshResult(os.Stdout, result)
			return nil
		},
	}
}

// printRefreshResult prints the human-readable refresh summary. A
// non-nil Error means the refresh completed with a partial failure.
func printRefreshResult(w io.Writer, result *temporal.RefreshThreatIntelResult) {
	fmt.Fprintf(w, "✓ Refresh completed\n")
	fmt.Fprintf(w, "  Patterns Upserted: %d\n", result.PatternsUpserted)
	fmt.Fprintf(w, "  Accounts Stored:   %d\n", result.AccountsStored)
	fmt.Fprintf(w, "  Patterns Loaded:   %d\n", result.PatternsLoaded)
	fmt.Fprintf(w, "  Refresh Time:      %s\n", result.RefreshTime)
	if result.Error != nil {
		fmt.Fprintf(w, "  Warning:           %s\n", *result.Error)
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the threat intel refresh schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.RefreshScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			fmt.Printf("Schedule ID:    %s\n", temporal.RefreshScheduleID)
			fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if action := desc.Schedule.Action; action != nil {
				if wa, ok := action.(*client.ScheduleWorkflowAction); ok {
					fmt.Printf("\nWorkflow:\n")
					fmt.Printf("  Workflow:     %s\n", wa.Workflow)
					fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
				}
			}

			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Printf("\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Printf("  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause-schedule",
		Usage: "Pause the threat intel refresh schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is paused",
				Value: "paused via CLI",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.RefreshScheduleID)
			if err := handle.Pause(ctx, client.SchedulePauseOptions{
				Note: c.String("note"),
			}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule %s paused\n", temporal.RefreshScheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Resume the threat intel refresh schedule",
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.RefreshScheduleID)
			if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{
				Note: "resumed via CLI",
			}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule %s resumed\n", temporal.RefreshScheduleID)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the threat intel refresh schedule",
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.RefreshScheduleID)
			if err := handle.Delete(ctx); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("✓ Schedule %s deleted\n", temporal.RefreshScheduleID)
			return nil
		},
	}
}

// getTemporalClient dials a raw Temporal SDK client from the global
// flags, falling back to environment variables and defaults.
func getTemporalClient(c *cli.Context) (client.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = os.Getenv("TEMPORAL_HOST")
	}
	if host == "" {
		host = "localhost:7233"
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = os.Getenv("TEMPORAL_NAMESPACE")
	}
	if namespace == "" {
		namespace = "default"
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal at %s: %w", host, err)
	}
	return temporalClient, nil
}
