package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/scoring"
	"promptarena-backend/internal/services"
)

const (
	dequeueTimeout = 5 * time.Second
	lockTTL        = 5 * time.Minute
	lockRetryDelay = 2 * time.Second
)

type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration, jobTypes ...string) (*models.Job, error)
	Lock(ctx context.Context, job *models.Job, ttl time.Duration) (bool, error)
	Release(ctx context.Context, job *models.Job)
	Requeue(job *models.Job, delay time.Duration)
}

type ChainAnalyzer interface {
	AnalyzePromptChain(ctx context.Context, task *models.Task, prompts []string) (float64, error)
}

type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

type TaskGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// Pool scores prompt chaining in the background. The metric needs the whole
// prompt history and a slower model call, so it is kept off the request path.
type Pool struct {
	queue       Queue
	sessions    SessionGetter
	tasks       TaskGetter
	analyzer    ChainAnalyzer
	ledger      *services.LedgerService
	publisher   services.EventPublisher
	metrics     *metrics.Metrics
	log         *logger.Logger
	workerCount int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(
	queue Queue,
	sessions SessionGetter,
	tasks TaskGetter,
	analyzer ChainAnalyzer,
	ledger *services.LedgerService,
	publisher services.EventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
	workerCount int,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		queue:       queue,
		sessions:    sessions,
		tasks:       tasks,
		analyzer:    analyzer,
		ledger:      ledger,
		publisher:   publisher,
		metrics:     m,
		log:         log,
		workerCount: workerCount,
	}
}

func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("Started chain workers", "count", p.workerCount)
}

// Stop cancels in-flight jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With("worker", id)

	for {
		if ctx.Err() != nil {
			log.Debug("Worker shutting down")
			return
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout, models.JobTypePromptChaining)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("Dequeue failed", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		if job == nil {
			continue
		}

		if p.claim(ctx, log, job) {
			p.Process(ctx, job)
		}
	}
}

// claim takes the job lock. A job whose lock could not be checked goes back
// on the queue instead of being dropped.
func (p *Pool) claim(ctx context.Context, log *logger.Logger, job *models.Job) bool {
	locked, err := p.queue.Lock(ctx, job, lockTTL)
	switch {
	case locked:
		if err != nil {
			log.Warn("Job claimed but pending marker not cleared", "job_id", job.ID, "error", err)
		}
		return true
	case err != nil:
		log.Warn("Failed to lock job, requeueing", "job_id", job.ID, "error", err)
		p.queue.Requeue(job, lockRetryDelay)
		return false
	default:
		return false // Another worker has this job
	}
}

// Process runs one job to completion, retry or permanent failure.
func (p *Pool) Process(ctx context.Context, job *models.Job) {
	log := p.log.With("job_id", job.ID, "session_id", job.SessionID)

	err := p.scoreChain(ctx, job)
	switch {
	case err == nil:
		p.queue.Release(ctx, job)
		p.metrics.RecordChainJob("completed")
		log.Info("Prompt chaining scored")
	case isPermanent(err):
		p.queue.Release(ctx, job)
		p.metrics.RecordChainJob("dropped")
		log.Warn("Dropping prompt-chaining job", "error", err)
	case job.RetryCount < job.MaxRetries:
		job.RetryCount++
		p.queue.Release(ctx, job)
		p.queue.Requeue(job, time.Duration(1<<uint(job.RetryCount))*time.Second)
		p.metrics.RecordChainJob("retried")
		log.Warn("Prompt-chaining job failed, retrying", "attempt", job.RetryCount, "error", err)
	default:
		p.queue.Release(ctx, job)
		p.metrics.RecordChainJob("failed")
		log.Error("Prompt-chaining job failed permanently", "error", err)
	}
}

func (p *Pool) scoreChain(ctx context.Context, job *models.Job) error {
	if job.Type != models.JobTypePromptChaining {
		return &permanentError{fmt.Errorf("unknown job type: %s", job.Type)}
	}

	sess, err := p.sessions.GetByID(ctx, job.SessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &permanentError{fmt.Errorf("session no longer exists")}
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if len(sess.Prompts) < 2 {
		return &permanentError{fmt.Errorf("session has %d prompts, need at least 2", len(sess.Prompts))}
	}

	task, err := p.tasks.GetByID(ctx, sess.TaskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	chain, err := p.analyzer.AnalyzePromptChain(ctx, task, sess.Prompts)
	if err != nil {
		return err
	}

	result, err := p.ledger.Record(ctx, services.Submission{
		SessionID: sess.ID,
		CallerID:  job.UserID,
		Fresh:     scoring.FreshValues{PromptChaining: scoring.Float(chain)},
		Source:    services.SourceChain,
	})
	if err != nil {
		var nf *services.NotFoundError
		if errors.As(err, &nf) {
			return &permanentError{err}
		}
		return err
	}

	if p.publisher != nil {
		p.publisher.PublishUpdate(ctx, job.UserID, models.WSMessage{
			Type: "chain_update",
			Payload: models.ChainUpdate{
				SessionID:           sess.ID,
				PromptChainingScore: chain,
				Score:               result.Session.Score,
			},
		})
	}
	return nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
