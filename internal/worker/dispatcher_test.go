package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcherRunsJob(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4})
	defer d.Close()

	want := errors.New("boom")
	if err := d.Submit(context.Background(), "a", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if err := d.Submit(context.Background(), "a", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestDispatcherQueuesWhenWorkerBusy(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 10})
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	done1 := make(chan struct{})
	done2 := make(chan struct{})

	go func() {
		_ = d.Submit(context.Background(), "u1", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
		close(done1)
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first job did not start")
	}
	go func() {
		_ = d.Submit(context.Background(), "u1", func(context.Context) error { return nil })
		close(done2)
	}()

	select {
	case <-done2:
		t.Fatalf("second job ran while the only worker was busy")
	case <-time.After(50 * time.Millisecond):
	}
	close(block)
	for i, ch := range []chan struct{}{done1, done2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("job %d did not complete after unblocking", i+1)
		}
	}
}

func TestDispatcherServesSubjectsRoundRobin(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 16})
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Submit(context.Background(), "gate", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []string
	record := func(s string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
			return nil
		}
	}

	var wg sync.WaitGroup
	submit := func(subject, label string, queued int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Submit(context.Background(), subject, record(label))
		}()
		deadline := time.Now().Add(time.Second)
		for len(d.JobQueue) != queued && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	submit("heavy", "h1", 0)
	time.Sleep(20 * time.Millisecond)
	submit("heavy", "h2", 1)
	submit("heavy", "h3", 2)
	submit("light", "l1", 3)

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("expected 4 jobs, got %v", order)
	}
	pos := map[string]int{}
	for i, s := range order {
		pos[s] = i
	}
	if pos["l1"] > pos["h3"] {
		t.Fatalf("light subject waited behind heavy backlog: %v", order)
	}
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	defer d.Close()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	go func() {
		_ = d.Submit(context.Background(), "a", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, "b", func(context.Context) error {
		ran <- struct{}{}
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDispatcherQueueFullAndClose(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Submit(context.Background(), "a", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	// one job waits for the busy worker, the other two exceed the backlog
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			errs <- d.Submit(context.Background(), "b", func(context.Context) error { return nil })
		}()
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("no submission was rejected")
	}
	close(block)
	for i := 0; i < 2; i++ {
		select {
		case <-errs:
		case <-time.After(time.Second):
			t.Fatalf("queued job did not finish")
		}
	}

	d.Close()
	if err := d.Submit(context.Background(), "a", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func backlog(d *Dispatcher) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func TestDispatcherBacklogStaysBoundedUnderBursts(t *testing.T) {
	const queueSize = 2
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: queueSize})
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = d.Submit(context.Background(), "gate", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started
	waitUntil(t, func() bool { return backlog(d) == 0 })

	results := make(chan error, 32)
	rejected, submitted := 0, 0
	for round := 0; round < 4; round++ {
		for i := 0; i < 4; i++ {
			submitted++
			go func() {
				results <- d.Submit(context.Background(), "burst", func(context.Context) error { return nil })
			}()
			waitUntil(t, func() bool {
				for drained := false; !drained; {
					select {
					case err := <-results:
						if !errors.Is(err, ErrQueueFull) {
							t.Errorf("expected ErrQueueFull, got %v", err)
						}
						rejected++
					default:
						drained = true
					}
				}
				return backlog(d)+rejected == submitted
			})
			if n := backlog(d); n > queueSize {
				t.Fatalf("round %d: backlog %d exceeds queue size %d", round, n, queueSize)
			}
		}
		// let the run loop move queued jobs off the channel before the next burst
		time.Sleep(10 * time.Millisecond)
	}
	if rejected != submitted-queueSize {
		t.Fatalf("expected %d rejections, got %d", submitted-queueSize, rejected)
	}

	close(block)
	for i := 0; i < queueSize; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("accepted job failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("accepted job did not finish")
		}
	}
	waitUntil(t, func() bool { return backlog(d) == 0 })
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within a second")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolShutdownExpiredKeepsMinimum(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Hour)
	defer p.stopAll()
	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	if running, idle := p.size(); running != 3 || idle != 3 {
		t.Fatalf("expected 3 idle workers, got running=%d idle=%d", running, idle)
	}

	p.shutdownExpired(time.Now().Add(2 * time.Hour))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if running, _ := p.size(); running == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	running, idle := p.size()
	t.Fatalf("expected one surviving worker, got running=%d idle=%d", running, idle)
}
