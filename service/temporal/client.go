package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateRefreshSchedule creates or updates the Temporal schedule that
// triggers threat intelligence refreshes.
func (c *Client) CreateRefreshSchedule(ctx context.Context, interval time.Duration) error {
	c.logger.Debug("creating threat intel refresh schedule",
		"schedule_id", RefreshScheduleID,
		"interval", interval,
	)

	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{
				Every: interval,
			},
		},
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "refresh-threat-intel",
		Workflow:  "RefreshThreatIntelWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{RefreshThreatIntelInput{
			Source: "schedule",
		}},
	}

	// Try to get existing schedule first so restarts update the
	// interval instead of failing on a duplicate.
	handle := c.client.ScheduleClient().GetHandle(ctx, RefreshScheduleID)
	if _, err := handle.Describe(ctx); err == nil {
		err = handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
					{Every: interval},
				}
				return &client.ScheduleUpdate{
					Schedule: &input.Description.Schedule,
				}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update schedule %q: %w", RefreshScheduleID, err)
		}
		c.logger.Info("threat intel refresh schedule updated",
			"schedule_id", RefreshScheduleID,
			"interval", interval,
		)
		return nil
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     RefreshScheduleID,
		Spec:   scheduleSpec,
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"created_by": "solguard",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", RefreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", RefreshScheduleID, err)
	}

	c.logger.Info("threat intel refresh schedule created",
		"schedule_id", RefreshScheduleID,
		"interval", interval,
	)

	return nil
}

// DeleteRefreshSchedule deletes the threat intel refresh schedule.
func (c *Client) DeleteRefreshSchedule(ctx context.Context) error {
	c.logger.Debug("deleting threat intel refresh schedule", "schedule_id", RefreshScheduleID)

	handle := c.client.ScheduleClient().GetHandle(ctx, RefreshScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", RefreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", RefreshScheduleID, err)
	}

	c.logger.Info("threat intel refresh schedule deleted", "schedule_id", RefreshScheduleID)
	return nil
}

// TriggerRefresh starts a refresh workflow immediately, outside the
// schedule. Used by the admin CLI.
func (c *Client) TriggerRefresh(ctx context.Context) (*RefreshThreatIntelResult, error) {
	options := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("refresh-threat-intel-manual-%d", time.Now().Unix()),
		TaskQueue: c.taskQueue,
	}
	run, err := c.client.ExecuteWorkflow(ctx, options, "RefreshThreatIntelWorkflow", RefreshThreatIntelInput{Source: "manual"})
	if err != nil {
		return nil, fmt.Errorf("failed to start refresh workflow: %w", err)
	}

	var result RefreshThreatIntelResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("refresh workflow failed: %w", err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
