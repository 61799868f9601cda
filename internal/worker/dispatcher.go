package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"finreport/internal/logger"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

// Config sizes the worker pool behind a Dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type subjectQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs jobs on a bounded, elastic pool of workers. Subjects are
// served round-robin, so one caller with many queued jobs cannot starve the
// others. At most QueueSize accepted jobs wait for a worker at any time.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*subjectQueue // job queue for each subject
	ready     *list.List               // round-robin order of subjects
	positions map[string]*list.Element
	pending   int // accepted jobs not yet handed to a worker
	limit     int

	closed atomic.Bool
	quit   chan struct{}
	done   chan struct{}
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		JobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*subjectQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		limit:     cfg.QueueSize,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues fn for subject and waits for it to finish. If ctx ends first
// Submit returns ctx.Err() and the job is skipped once it reaches a worker.
func (d *Dispatcher) Submit(ctx context.Context, subject string, fn func(ctx context.Context) error) error {
	job := Job{Type: Run, Subject: subject, Ctx: ctx, Fn: fn, result: make(chan error, 1)}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.pending >= d.limit {
		d.mu.Unlock()
		return ErrQueueFull
	}
	d.pending++
	// pending never exceeds the channel capacity, so the send cannot block
	d.JobQueue <- job
	d.mu.Unlock()

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		// dispatch one job of the subject at the front of the ready list
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // nothing pending, wait for work
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		// pull everything that arrived meanwhile so new subjects join the rotation
		for pulled := true; pulled; {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			default:
				pulled = false
			}
		}
	}
}

// Close stops dispatching, fails queued jobs with ErrClosed and retires idle
// workers. Jobs already running finish normally.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	close(d.quit)
	<-d.done
	d.pool.stopAll()
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Subject]
	if q == nil {
		q = &subjectQueue{}
		d.queues[job.Subject] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Subject] = d.ready.PushBack(job.Subject)
}

// dispatchOne hands the next job of the front subject to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	subject := elem.Value.(string)
	q := d.queues[subject]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, subject)
		delete(d.queues, subject)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	logger.Debug("dispatching job", zap.String("subject", subject))
	workerChan <- job

	d.mu.Lock()
	d.pending--
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	var pending []Job
	for _, q := range d.queues {
		pending = append(pending, q.jobs...)
	}
	d.queues = make(map[string]*subjectQueue)
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	for drained := false; !drained; {
		select {
		case job := <-d.JobQueue:
			pending = append(pending, job)
		default:
			drained = true
		}
	}
	d.pending -= len(pending)
	d.mu.Unlock()
	finishAll(pending, ErrClosed)
}

func finishAll(jobs []Job, err error) {
	for _, job := range jobs {
		if job.result != nil {
			job.result <- err
		}
	}
}
