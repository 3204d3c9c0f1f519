/*
Package jobqueue provides a River-based queue for replies the provider refused to accept.

Undelivered replies are inserted as reply_redelivery jobs and retried with backoff until
they are delivered, become permanently undeliverable, or run out of attempts. For
configuration options and retry policies, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/omnirouter/internal/conversation"
	"github.com/omnirouter/internal/core_processor"
	"github.com/omnirouter/internal/dispatch"
	"github.com/omnirouter/internal/logging"
)

// ErrNoRedeliverer is returned by Start when no Redeliverer has been bound.
var ErrNoRedeliverer = errors.New("jobqueue: no redeliverer bound")

// RedeliveryJobArgs represents the arguments for a reply redelivery job
type RedeliveryJobArgs struct {
	Reply core_processor.UndeliveredReply `json:"reply"`
}

// Kind returns the job kind for River
func (RedeliveryJobArgs) Kind() string {
	return "reply_redelivery"
}

// Redeliverer sends a queued reply again.
type Redeliverer interface {
	Redeliver(ctx context.Context, reply core_processor.UndeliveredReply) error
}

// RedeliveryWorker handles reply redelivery jobs
type RedeliveryWorker struct {
	river.WorkerDefaults[RedeliveryJobArgs]
	redeliverer Redeliverer
	config      QueueConfig
	logger      logging.Logger
}

// Timeout bounds a single attempt.
func (w *RedeliveryWorker) Timeout(*river.Job[RedeliveryJobArgs]) time.Duration {
	return w.config.JobTimeout
}

func (w *RedeliveryWorker) Work(ctx context.Context, job *river.Job[RedeliveryJobArgs]) error {
	if w.redeliverer == nil {
		return ErrNoRedeliverer
	}
	reply := job.Args.Reply

	err := w.redeliverer.Redeliver(ctx, reply)
	if err == nil {
		w.logger.Info().
			Int64("job_id", job.ID).
			Int("attempt", job.Attempt).
			Str("conversation_id", reply.ConversationID).
			Msg("undelivered reply delivered")
		return nil
	}

	if cancelRedelivery(err) {
		w.logger.Warn().
			Err(err).
			Int64("job_id", job.ID).
			Str("conversation_id", reply.ConversationID).
			Msg("reply dropped from redelivery")
		return river.JobCancel(err)
	}

	event := w.logger.Warn()
	if job.Attempt >= job.MaxAttempts {
		event = w.logger.Error()
	}
	event.
		Err(err).
		Str("failure", "dispatch").
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Str("conversation_id", reply.ConversationID).
		Msg("redelivery attempt failed")
	return err
}

// cancelRedelivery reports errors that no later attempt can fix.
func cancelRedelivery(err error) bool {
	return errors.Is(err, core_processor.ErrTakeoverActive) ||
		errors.Is(err, conversation.ErrNotFound) ||
		dispatch.Permanent(err) ||
		dispatch.Delivered(err)
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config QueueConfig
	worker *RedeliveryWorker
	logger logging.Logger
}

// NewJobQueue creates a job queue on an existing pool. Bind a Redeliverer before Start.
func NewJobQueue(pool *pgxpool.Pool, config QueueConfig, logger logging.Logger) (*JobQueue, error) {
	config = config.withDefaults()
	logger = logging.Component(logger, "jobqueue")

	worker := &RedeliveryWorker{config: config, logger: logger}
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		RetryPolicy: config.RetryPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
		worker: worker,
		logger: logger,
	}, nil
}

// Bind sets the component that performs redeliveries.
func (jq *JobQueue) Bind(r Redeliverer) {
	jq.worker.redeliverer = r
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	if jq.worker.redeliverer == nil {
		return ErrNoRedeliverer
	}
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Enqueue inserts an undelivered reply as a redelivery job.
func (jq *JobQueue) Enqueue(ctx context.Context, reply core_processor.UndeliveredReply) error {
	res, err := jq.client.Insert(ctx, RedeliveryJobArgs{Reply: reply}, &river.InsertOpts{
		MaxAttempts: jq.config.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("failed to queue reply redelivery: %w", err)
	}
	jq.logger.Debug().
		Int64("job_id", res.Job.ID).
		Str("conversation_id", reply.ConversationID).
		Msg("reply redelivery queued")
	return nil
}

// Migrate applies River's schema migrations and returns the versions applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]int, error) {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to apply river migrations: %w", err)
	}
	versions := make([]int, 0, len(res.Versions))
	for _, v := range res.Versions {
		versions = append(versions, v.Version)
	}
	return versions, nil
}
