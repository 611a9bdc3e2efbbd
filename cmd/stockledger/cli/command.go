package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"
)

const usage = `usage: stockledger jobs <command> [flags]

commands:
  trigger <task> [job-id]   enqueue stock:repost_due, stock:repost_job or stock:repost_cleanup
  inspect [-queue name]     print queue counters
  scheduled [-queue name] [-size n]
`

// JobsOptions configures one jobs command run.
type JobsOptions struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

type scheduledTask struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Queue     string    `json:"queue"`
	NextRunAt time.Time `json:"next_run_at"`
}

// JobsCommand runs a jobs subcommand and returns the process exit code.
func (c *JobsCLI) JobsCommand(ctx context.Context, opts JobsOptions) int {
	if len(opts.Args) == 0 {
		fmt.Fprint(opts.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("stockledger jobs "+opts.Args[0], flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	queue := fs.String("queue", "", "queue name (default repost)")
	size := fs.Int("size", 10, "page size")
	if err := fs.Parse(opts.Args[1:]); err != nil {
		return 2
	}

	var out any
	switch opts.Args[0] {
	case "trigger":
		if fs.NArg() == 0 {
			fmt.Fprint(opts.Stderr, usage)
			return 2
		}
		info, err := c.Trigger(ctx, fs.Arg(0), fs.Args()[1:]...)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "trigger: %v\n", err)
			return 1
		}
		out = map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue}
	case "inspect":
		stats, err := c.InspectQueue(ctx, *queue)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "inspect: %v\n", err)
			return 1
		}
		out = stats
	case "scheduled":
		infos, err := c.ListScheduled(ctx, *queue, *size)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "scheduled: %v\n", err)
			return 1
		}
		tasks := make([]scheduledTask, 0, len(infos))
		for _, info := range infos {
			tasks = append(tasks, scheduledTask{ID: info.ID, Type: info.Type, Queue: info.Queue, NextRunAt: info.NextProcessAt})
		}
		out = tasks
	default:
		fmt.Fprint(opts.Stderr, usage)
		return 2
	}

	enc := json.NewEncoder(opts.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(opts.Stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
