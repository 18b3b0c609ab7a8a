package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/mise-platform/mise/jobs"
)

type stubClient struct {
	enqueued []*asynq.Task
	err      error
}

func (s *stubClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.enqueued = append(s.enqueued, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubClient) Close() error { return nil }

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s *stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, nil
}

func (s *stubInspector) Close() error { return nil }

func TestJobsCommandTriggerKnownJob(t *testing.T) {
	client := &stubClient{}
	c := NewJobsCLIWith(client, &stubInspector{})

	stdout := new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{
		Args:   []string{"trigger", jobs.TaskLowStockSweep},
		Stdout: stdout,
	})
	require.Zero(t, code)
	require.Len(t, client.enqueued, 1)
	require.Equal(t, jobs.TaskLowStockSweep, client.enqueued[0].Type())
	require.Contains(t, stdout.String(), "enqueued "+jobs.TaskLowStockSweep)
}

func TestJobsCommandTriggerUnknownJob(t *testing.T) {
	client := &stubClient{}
	c := NewJobsCLIWith(client, &stubInspector{})

	stderr := new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{
		Args:   []string{"trigger", "payroll:run"},
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Empty(t, client.enqueued)
	require.Contains(t, stderr.String(), "unsupported job payroll:run")
}

func TestJobsCommandTriggerEnqueueFailure(t *testing.T) {
	c := NewJobsCLIWith(&stubClient{err: errors.New("redis down")}, &stubInspector{})

	stderr := new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{
		Args:   []string{"trigger", jobs.TaskReconcileAll},
		Stderr: stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "redis down")
}

func TestJobsCommandInspectJSON(t *testing.T) {
	inspector := &stubInspector{
		info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Active: 1, Scheduled: 2, Retry: 4},
		scheduled: []*asynq.TaskInfo{
			{Type: jobs.TaskReconcileAll, NextProcessAt: time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)},
		},
	}
	c := NewJobsCLIWith(&stubClient{}, inspector)

	stdout := new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{
		Args:       []string{"inspect"},
		JSONOutput: true,
		Stdout:     stdout,
	})
	require.Zero(t, code)

	var got struct {
		Queue     string   `json:"queue"`
		Pending   int      `json:"pending"`
		Active    int      `json:"active"`
		Scheduled int      `json:"scheduled"`
		Retry     int      `json:"retry"`
		Upcoming  []string `json:"upcoming"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	require.Equal(t, jobs.QueueDefault, got.Queue)
	require.Equal(t, 3, got.Pending)
	require.Equal(t, 4, got.Retry)
	require.Equal(t, []string{jobs.TaskReconcileAll}, got.Upcoming)
}

func TestJobsCommandInspectTable(t *testing.T) {
	inspector := &stubInspector{info: &asynq.QueueInfo{Pending: 7}}
	c := NewJobsCLIWith(&stubClient{}, inspector)

	stdout := new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{Args: []string{"inspect"}, Stdout: stdout})
	require.Zero(t, code)
	require.Contains(t, stdout.String(), "pending")
	require.Contains(t, stdout.String(), "7")
}

func TestJobsCommandInspectFailure(t *testing.T) {
	c := NewJobsCLIWith(&stubClient{}, &stubInspector{err: errors.New("no queue")})

	stderr := new(bytes.Buffer)
	code := c.JobsCommand(context.Background(), JobsOptions{Args: []string{"inspect"}, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "no queue")
}

func TestJobsCommandUsage(t *testing.T) {
	c := NewJobsCLIWith(&stubClient{}, &stubInspector{})

	for _, args := range [][]string{nil, {"trigger"}, {"retry", "x"}} {
		stderr := new(bytes.Buffer)
		code := c.JobsCommand(context.Background(), JobsOptions{Args: args, Stderr: stderr})
		require.Equal(t, 2, code, "args %v", args)
		require.Contains(t, stderr.String(), "usage: mise jobs")
		require.Contains(t, stderr.String(), jobs.TaskPurgeNotifications)
	}
}

func TestNilJobsCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskLowStockSweep)
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}
