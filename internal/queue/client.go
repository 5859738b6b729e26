package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueuePollStylization schedules the worker that follows one task. The
// poll loop owns its own budget, so asynq never retries it and the timeout
// only guards against a wedged handler.
func (c *Client) EnqueuePollStylization(ctx context.Context, payload PollStylizationPayload) (*asynq.TaskInfo, error) {
	task, err := NewPollStylizationTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.TaskID(payload.JobID),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
