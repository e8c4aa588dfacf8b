package settlement

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/types"
)

// TaskFunc processes the record identified by hash.
type TaskFunc func(ctx context.Context, hash string) error

// FailureHandler receives every task error and recovered panic. It runs on a
// context detached from pool shutdown so the failure can still be persisted.
type FailureHandler func(ctx context.Context, hash string, err error)

type task struct {
	id   string
	hash string
	fn   TaskFunc
}

type PoolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Pool runs orchestration tasks on a fixed number of workers.
type Pool struct {
	cfg       PoolConfig
	queue     chan task
	onFailure FailureHandler
	logger    logger.Logger
	metrics   metrics.Recorder

	mu      sync.Mutex
	running bool
	// queued holds task ids by hash from submission until the task returns
	queued map[string]string
}

func NewPool(cfg PoolConfig, onFailure FailureHandler, lg logger.Logger, m metrics.Recorder) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if lg == nil {
		lg = logger.NoopLogger{}
	}
	if m == nil {
		m = metrics.NoopRecorder{}
	}
	return &Pool{
		cfg:       cfg,
		queue:     make(chan task, cfg.QueueSize),
		onFailure: onFailure,
		logger:    lg,
		metrics:   m,
		queued:    make(map[string]string),
	}
}

// TrySubmit enqueues fn for hash without blocking. A hash already queued or
// running returns its existing task id. A full queue returns ErrQueueFull.
func (p *Pool) TrySubmit(hash string, fn TaskFunc) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.queued[hash]; ok {
		return id, nil
	}
	t := task{id: uuid.NewString(), hash: hash, fn: fn}
	select {
	case p.queue <- t:
	default:
		p.metrics.IncCounter(metrics.EventQueueFull, nil)
		return "", types.NewError(types.ErrCodeQueueFull, "queue full (%d), %s not queued", cap(p.queue), hash)
	}
	p.queued[hash] = t.id
	p.logger.Debug("task queued", map[string]any{"task": t.id, "tx": hash})
	return t.id, nil
}

// Run starts the workers and blocks until ctx is cancelled and in-flight tasks return.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool already running")
	}
	p.running = true
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-p.queue:
					p.execute(ctx, worker, t)
				}
			}
		}(i)
	}
	p.logger.Info("worker pool started", map[string]any{"workers": p.cfg.Workers, "queue": p.cfg.QueueSize})
	wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// Pending reports how many tasks wait in the queue.
func (p *Pool) Pending() int { return len(p.queue) }

func (p *Pool) execute(ctx context.Context, worker int, t task) {
	defer p.release(t)
	start := time.Now()
	taskCtx := ctx
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	err := p.safeRun(taskCtx, t)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		p.logger.Error("task failed", map[string]any{"task": t.id, "tx": t.hash, "worker": worker, "error": err})
		if p.onFailure != nil {
			failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			p.onFailure(failCtx, t.hash, err)
			cancel()
		}
	}
	p.metrics.ObserveLatency(metrics.OpOrchestration, time.Since(start), map[string]string{"outcome": outcome})
}

func (p *Pool) release(t task) {
	p.mu.Lock()
	if p.queued[t.hash] == t.id {
		delete(p.queued, t.hash)
	}
	p.mu.Unlock()
}

func (p *Pool) safeRun(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.IncCounter(metrics.EventTaskPanicked, map[string]string{"reason": fmt.Sprint(r)})
			p.logger.Error("task panicked", map[string]any{"task": t.id, "tx": t.hash, "panic": r, "stack": string(debug.Stack())})
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return t.fn(ctx, t.hash)
}
