// Package queue runs flushes of the content tree as background tasks, so
// an administrator does not have to keep a request open while a large tree
// is swept.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"

	"github.com/groupclaes/pcm-api-i/invalidate"
)

// TypeFlushAll is the task type of a flush.
const TypeFlushAll = "content:flush-all"

// uniqueFor collapses repeated flush requests into one task.
const uniqueFor = 10 * time.Minute

// FlushPayload is the payload of a flush task.
type FlushPayload struct {
	RequestedBy string `json:"requested_by"`
}

// NewFlushTask returns a task flushing the content tree on behalf of
// requestedBy.
func NewFlushTask(requestedBy string) (*asynq.Task, error) {
	payload, err := json.Marshal(FlushPayload{RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeFlushAll, payload, asynq.MaxRetry(0), asynq.Unique(uniqueFor)), nil
}

// Client enqueues flushes in Redis.
type Client struct {
	c *asynq.Client
}

// NewClient connects to the Redis server at addr.
func NewClient(addr string) *Client {
	return &Client{c: asynq.NewClient(asynq.RedisClientOpt{Addr: addr})}
}

// EnqueueFlush queues a flush and returns the id of its task. A flush which
// is already queued is reported as a success with an empty id.
func (c *Client) EnqueueFlush(ctx context.Context, requestedBy string) (string, error) {
	task, err := NewFlushTask(requestedBy)
	if err != nil {
		return "", err
	}
	info, err := c.c.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", nil
	} else if err != nil {
		return "", errors.Wrap(err, "enqueue flush")
	}
	return info.ID, nil
}

// Close closes the connection to Redis.
func (c *Client) Close() error {
	return c.c.Close()
}

// Handler returns a mux running flush tasks with sweeper.
func Handler(sweeper *invalidate.Sweeper, log *slog.Logger) *asynq.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeFlushAll, func(ctx context.Context, t *asynq.Task) error {
		var p FlushPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return errors.Wrap(asynq.SkipRetry, err.Error())
		}
		start := time.Now()
		res, err := sweeper.FlushAll(ctx)
		if err != nil {
			log.Error("queued flush failed", "requested_by", p.RequestedBy, "error", err)
			return err
		}
		log.Info("queued flush done",
			"requested_by", p.RequestedBy,
			"assets", res.Length,
			"elapsed", time.Since(start))
		return nil
	})
	return mux
}

// Worker runs queued tasks from the Redis server at addr until ctx is
// done.
type Worker struct {
	Addr        string
	Concurrency int
	Sweeper     *invalidate.Sweeper
	Log         *slog.Logger
}

// Run blocks processing tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	n := w.Concurrency
	if n < 1 {
		n = 1
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: w.Addr}, asynq.Config{
		Concurrency: n,
		Queues:      map[string]int{"default": 1},
	})
	if err := srv.Start(Handler(w.Sweeper, w.Log)); err != nil {
		return errors.Wrap(err, "start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
