package activitypub

import (
	"context"
	"log"
	"sync"
)

// Job is a unit of work run by a Pool
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of goroutines
type Pool struct {
	name    string
	width   int
	jobs    chan Job
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	once    sync.Once
	started sync.Once

	// gate is held shared by Submit and exclusively by Stop, so no send races the final drain
	gate    sync.RWMutex
	stopped bool

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// NewPool creates a pool of width workers with room for queue waiting jobs
func NewPool(name string, width, queue int) *Pool {
	if width < 1 {
		width = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		width:  width,
		jobs:   make(chan Job, queue),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *Pool) Start() {
	p.started.Do(func() {
		for i := 0; i < p.width; i++ {
			p.workers.Add(1)
			go p.work()
		}
		log.Printf("Pool: Started %s pool with %d workers", p.name, p.width)
	})
}

func (p *Pool) work() {
	defer p.workers.Done()
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	defer p.finish()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Pool: %s job panicked: %v", p.name, r)
		}
	}()
	job(p.ctx)
}

func (p *Pool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
}

// Submit queues job, blocking while the queue is full. It returns false once the pool is stopped.
func (p *Pool) Submit(job Job) bool {
	p.gate.RLock()
	defer p.gate.RUnlock()

	if p.stopped {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}

	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	case <-p.done:
		p.finish()
		return false
	}
}

// Wait blocks until every submitted job has finished or been dropped
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.idle.Wait()
	}
}

// Stop cancels running jobs, drops queued ones and waits for the workers to exit
func (p *Pool) Stop() {
	p.once.Do(func() {
		// Closing done first releases Submits blocked on a full queue
		close(p.done)
		p.gate.Lock()
		p.stopped = true
		p.gate.Unlock()

		p.cancel()
		p.workers.Wait()
		for {
			select {
			case <-p.jobs:
				p.finish()
			default:
				log.Printf("Pool: Stopped %s pool", p.name)
				return
			}
		}
	})
}
