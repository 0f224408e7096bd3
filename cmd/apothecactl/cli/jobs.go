package cli

import (
	"context"
	"errors"
	"flag"

	"github.com/hibiken/asynq"

	"github.com/apotheca/apotheca/internal/shared"
	"github.com/apotheca/apotheca/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name and returns the task id.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	info, err := c.client.Trigger(ctx, name)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// InspectQueue reports the state of the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (jobs.QueueStatus, error) {
	if c == nil || c.inspector == nil {
		return jobs.QueueStatus{}, errors.New("jobs cli: inspector not configured")
	}
	return jobs.InspectQueue(c.inspector)
}

type triggered struct {
	Task string `json:"task"`
	ID   string `json:"id"`
}

func (a *App) jobs(ctx context.Context, actor shared.Actor, args []string) (any, error) {
	if a.Jobs == nil {
		return nil, errNotConfigured
	}
	if !actor.IsSuperUser() {
		return nil, shared.ErrForbidden
	}
	if len(args) == 0 {
		return nil, usagef("usage: jobs trigger <task> | inspect")
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(a.Stderr)
		if err := fs.Parse(args[1:]); err != nil {
			return nil, usagef("%v", err)
		}
		if fs.NArg() != 1 {
			return nil, usagef("usage: jobs trigger <%s|%s>", jobs.TaskExpiryScan, jobs.TaskIdempotencyCleanup)
		}
		id, err := a.Jobs.Trigger(ctx, fs.Arg(0))
		if err != nil {
			return nil, err
		}
		return triggered{Task: fs.Arg(0), ID: id}, nil
	case "inspect":
		return a.Jobs.InspectQueue(ctx)
	}
	return nil, usagef("unknown jobs subcommand %q", args[0])
}
