package dispatch

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"twigo/pkg/api"
	"twigo/pkg/logger"
	"twigo/pkg/ratelimit"
)

// Job is a single stream message to handle
type Job struct {
	Data map[string]any
	// Seq is the position of the message in its stream
	Seq int64
}

// ID returns the message id, preferring id_str, or "" when there is none
func (j Job) ID() string {
	if s, ok := j.Data["id_str"].(string); ok && s != "" {
		return s
	}
	if id, ok := api.Int(j.Data["id"]); ok {
		return fmt.Sprint(id)
	}
	return ""
}

// Result is the outcome of a job
type Result struct {
	Job     Job
	Handler string
	// Duplicate is set when the message was already handled
	Duplicate bool
	Err       error
	Duration  time.Duration
}

// Dispatcher routes a message to its handler
type Dispatcher interface {
	Dispatch(ctx context.Context, data map[string]any) (string, error)
}

// Seen tracks handled message ids. Streams may redeliver messages after a
// reconnect.
type Seen interface {
	// MarkSeen records id and reports whether it was already recorded
	MarkSeen(id string) bool
}

// WorkerPool runs handlers for stream messages concurrently
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	dispatcher  Dispatcher
	seen        Seen
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// NewWorkerPool creates a pool. seen and rateLimiter may be nil.
func NewWorkerPool(
	numWorkers int,
	dispatcher Dispatcher,
	seen Seen,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	numWorkers = max(numWorkers, 1)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		dispatcher:  dispatcher,
		seen:        seen,
		rateLimiter: rateLimiter,
		logger:      logger.ForComponent(log, "dispatch"),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop waits for queued jobs to finish and closes Results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
	wp.logger.Debug("worker pool stopped")
}

// Abort cancels running handlers. Stop must still be called.
func (wp *WorkerPool) Abort() {
	wp.cancel()
}

// Submit queues a job, blocking while the queue is full
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel. It must be drained for the workers to
// make progress.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// QueueSize returns the number of jobs waiting
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		}
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if wp.seen != nil {
		if id := job.ID(); id != "" && wp.seen.MarkSeen(id) {
			wp.logger.DebugWithFields("duplicate message", map[string]interface{}{
				"worker_id": workerID,
				"id":        id,
			})
			result.Duplicate = true
			result.Duration = time.Since(start)
			return result
		}
	}

	if err := wp.rateLimiter.Wait(wp.ctx); err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	result.Handler, result.Err = wp.dispatcher.Dispatch(wp.ctx, job.Data)
	result.Duration = time.Since(start)

	if result.Err != nil {
		wp.logger.WithError(result.Err).ErrorWithFields("handler failed", map[string]interface{}{
			"worker_id": workerID,
			"handler":   result.Handler,
			"seq":       job.Seq,
		})
	}
	return result
}

// RecentIDs remembers the last capacity ids
type RecentIDs struct {
	capacity int
	mu       sync.Mutex
	order    *list.List
	ids      map[string]*list.Element
}

// NewRecentIDs creates a set holding up to capacity ids
func NewRecentIDs(capacity int) *RecentIDs {
	return &RecentIDs{
		capacity: max(capacity, 1),
		order:    list.New(),
		ids:      make(map[string]*list.Element),
	}
}

// MarkSeen implements Seen
func (r *RecentIDs) MarkSeen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.ids[id]; ok {
		r.order.MoveToFront(e)
		return true
	}
	r.ids[id] = r.order.PushFront(id)
	if r.order.Len() > r.capacity {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.ids, oldest.Value.(string))
	}
	return false
}
