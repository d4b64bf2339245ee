package browseruse

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollCap      = 20 * time.Second
	defaultPollTimeout  = 5 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval time.Duration
	cap      time.Duration
	timeout  time.Duration
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.interval = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout (applied only if the parent
// context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// PollTask polls GetTask until the task finishes, fails, or the context
// expires. Uses exponential backoff on the poll interval, capped.
func PollTask(ctx context.Context, client Client, taskID string, opts ...PollOption) (*Task, error) {
	cfg := pollConfig{
		interval: defaultPollInterval,
		cap:      defaultPollCap,
		timeout:  defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.interval
	for {
		task, err := client.GetTask(ctx, taskID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("browseruse: poll task %s", taskID))
		}

		switch task.Status {
		case StatusFinished:
			return task, nil
		case StatusFailed, StatusStopped:
			return nil, eris.Errorf("browseruse: task %s ended with status %s", taskID, task.Status)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("browseruse: poll task %s timed out", taskID))
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
