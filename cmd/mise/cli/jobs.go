package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/mise-platform/mise/jobs"
)

// Enqueuer is the subset of asynq.Client used by the CLI.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector is the subset of asynq.Inspector used by the CLI.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the worker queue.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// NewJobsCLIWith builds a JobsCLI on explicit collaborators.
func NewJobsCLIWith(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, ok, err := jobs.NewTaskByName(name)
	if !ok {
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the default queue counters.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// JobsOptions configures one invocation of the jobs command.
type JobsOptions struct {
	Args       []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// Supported lists the job names accepted by trigger.
func Supported() []string {
	names := []string{jobs.TaskLowStockSweep, jobs.TaskReconcileAll, jobs.TaskPurgeNotifications}
	sort.Strings(names)
	return names
}

// JobsCommand runs `jobs trigger <name>` or `jobs inspect` and returns the
// process exit code: 0 on success, 1 on a failed call, 2 on bad usage.
func (c *JobsCLI) JobsCommand(ctx context.Context, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if len(opts.Args) == 0 {
		usage(opts.Stderr)
		return 2
	}
	switch opts.Args[0] {
	case "trigger":
		if len(opts.Args) != 2 {
			usage(opts.Stderr)
			return 2
		}
		info, err := c.Trigger(ctx, opts.Args[1])
		if err != nil {
			fmt.Fprintf(opts.Stderr, "trigger %s: %v\n", opts.Args[1], err)
			return 1
		}
		if opts.JSONOutput {
			return writeJSON(opts, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		}
		fmt.Fprintf(opts.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "inspect":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "inspect: %v\n", err)
			return 1
		}
		scheduled, err := c.ListScheduled(ctx, 10)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "list scheduled: %v\n", err)
			return 1
		}
		if opts.JSONOutput {
			types := make([]string, 0, len(scheduled))
			for _, t := range scheduled {
				types = append(types, t.Type)
			}
			return writeJSON(opts, struct {
				QueueStats
				Upcoming []string `json:"upcoming"`
			}{stats, types})
		}
		tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "queue\tpending\tactive\tscheduled\tretry\n")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		_ = tw.Flush()
		for _, t := range scheduled {
			fmt.Fprintf(opts.Stdout, "next %s at %s\n", t.Type, t.NextProcessAt.Format("2006-01-02 15:04:05"))
		}
		return 0
	default:
		usage(opts.Stderr)
		return 2
	}
}

func writeJSON(opts JobsOptions, v any) int {
	enc := json.NewEncoder(opts.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(opts.Stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: mise jobs [-json] trigger <name> | inspect")
	for _, name := range Supported() {
		fmt.Fprintf(w, "  %s\n", name)
	}
}
