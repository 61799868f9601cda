package worker

import "context"

// JobType tells a worker what to do with a job.
type JobType int

const (
	Run JobType = iota
	Stop
)

// Job is one unit of work queued on behalf of a subject.
type Job struct {
	Type    JobType
	Subject string
	Ctx     context.Context
	Fn      func(ctx context.Context) error
	result  chan error
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.handle(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *Worker) handle(job Job) {
	var err error
	if cerr := job.Ctx.Err(); cerr != nil {
		// the caller gave up while the job waited in the queue
		err = cerr
	} else {
		err = job.Fn(job.Ctx)
	}
	if job.result != nil {
		job.result <- err
	}
}
