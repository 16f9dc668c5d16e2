// Package workerpool implements the Worker Pool (spec.md §4.5) as a
// long-lived set of goroutines fed through an unbuffered channel from an
// unbounded, height-ordered job queue, adapting Design Notes §9 ("replace the subprocess model with a worker-
// goroutine/thread pool fed by a bounded channel of (height,) jobs...
// progress is reported by broadcasting on a separate channel"). Grounded on
// work/agent.go + work/worker.go's Agent/workCh/returnCh/atomic-flag idiom,
// with github.com/hashicorp/go-uuid for worker IDs and
// gopkg.in/karalabe/cookiejar.v2's prque for ascending-height dispatch order
// (spec.md §5: "dispatched in ascending height order but may complete out of
// order").
package workerpool

import (
	"context"
	"sync"
	"time"

	uuidpkg "github.com/hashicorp/go-uuid"
	"gopkg.in/karalabe/cookiejar.v2/collections/prque"

	"github.com/xloem/vartex/internal/metrics"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("workerpool")

// ImportFunc performs one importBlock(height) job: fetch the block from the
// remote node, project its rows, submit writes (spec.md §4.5).
type ImportFunc func(ctx context.Context, height uint64) error

// ProgressKind mirrors the worker IPC message types of spec.md §4.5/§6.
type ProgressKind string

const (
	KindReady     ProgressKind = "worker:ready"
	KindLogInfo   ProgressKind = "log:info"
	KindBlockNew  ProgressKind = "block:new"
	KindTxInFlight ProgressKind = "stats:tx:flight"
)

// ProgressMsg is one message broadcast on the progress channel (spec.md §4.5
// "Receives typed messages from workers"). Unknown kinds are never produced
// by this package; a consumer seeing one it doesn't recognize should log and
// drop it, matching spec.md's "Unknown messages are logged and dropped."
type ProgressMsg struct {
	Kind       ProgressKind
	WorkerID   string
	Height     uint64
	Err        error
	Message    string
	TxInFlight int
}

// Pool is the long-lived pool of N workers, configured by PARALLEL_WORKERS
// (spec.md §6).
type Pool struct {
	n        int
	importFn ImportFunc

	readyCh    chan string
	jobCh      chan job
	progressCh chan ProgressMsg
	submitCh   chan struct{}

	queueMu sync.Mutex
	queue   *prque.Prque

	txInFlight sync.Map // workerID -> int
	wg         sync.WaitGroup
}

type job struct {
	height uint64
	ackCh  chan error
}

// New builds a pool of n workers. importFn is invoked once per job, on
// whichever worker goroutine picked it up.
func New(n int, importFn ImportFunc) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{
		n:          n,
		importFn:   importFn,
		readyCh:    make(chan string, n),
		jobCh:      make(chan job),
		progressCh: make(chan ProgressMsg, 256),
		submitCh:   make(chan struct{}, 1),
		queue:      prque.New(),
	}
}

// Progress returns the channel progress messages are broadcast on
// (spec.md §4.5 / Design Notes §9's "separate channel consumed by a
// progress renderer").
func (p *Pool) Progress() <-chan ProgressMsg {
	return p.progressCh
}

// Start launches all N workers and blocks until every worker's ready
// handshake has been observed (spec.md §4.6 startSync step 1: "Await all
// workers' ready handshakes").
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		id, err := uuidpkg.GenerateUUID()
		if err != nil {
			id = "worker-unknown"
		}
		p.wg.Add(1)
		go p.runWorker(ctx, id)
	}
	go p.dispatch(ctx)
	for i := 0; i < p.n; i++ {
		<-p.readyCh
	}
	logger.Info("worker pool started", "workers", p.n)
}

// Stop waits for every in-flight job to finish and every worker goroutine to
// exit.
func (p *Pool) Stop() {
	close(p.jobCh)
	p.wg.Wait()
	close(p.progressCh)
}

func (p *Pool) runWorker(ctx context.Context, id string) {
	defer p.wg.Done()
	p.txInFlight.Store(id, 0)
	p.readyCh <- id
	p.emit(ProgressMsg{Kind: KindReady, WorkerID: id})

	for j := range p.jobCh {
		p.incFlight(id, 1)
		p.emit(ProgressMsg{Kind: KindTxInFlight, WorkerID: id, TxInFlight: p.flightOf(id)})

		start := time.Now()
		err := p.importFn(ctx, j.height)
		metrics.ObserveImportDuration(time.Since(start))

		p.incFlight(id, -1)
		p.emit(ProgressMsg{Kind: KindTxInFlight, WorkerID: id, TxInFlight: p.flightOf(id)})
		p.emit(ProgressMsg{Kind: KindBlockNew, WorkerID: id, Height: j.height, Err: err})

		j.ackCh <- err
		close(j.ackCh)
	}
}

func (p *Pool) incFlight(id string, delta int) {
	v, _ := p.txInFlight.Load(id)
	n, _ := v.(int)
	p.txInFlight.Store(id, n+delta)
}

func (p *Pool) flightOf(id string) int {
	v, _ := p.txInFlight.Load(id)
	n, _ := v.(int)
	return n
}

// dispatch pulls the lowest-height queued job and hands it to whichever
// worker goroutine is free to receive next -- the "single facade whose RPC
// picks the next available worker" (spec.md §4.5), implemented here as
// "whichever goroutine's range-over-jobCh receive fires first."
func (p *Pool) dispatch(ctx context.Context) {
	for {
		p.queueMu.Lock()
		if p.queue.Empty() {
			p.queueMu.Unlock()
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-ctx.Done():
				return
			case <-p.submitCh:
			}
			continue
		}
		item, _ := p.queue.Pop()
		j := item.(job)
		p.queueMu.Unlock()

		select {
		case p.jobCh <- j:
		case <-ctx.Done():
			return
		}
	}
}

// ImportBlock is the "importBlock(height) -> ack" RPC of spec.md §4.5,
// dispatched in ascending height order (lower heights have queue priority)
// per spec.md §5. The returned channel receives exactly one value.
func (p *Pool) ImportBlock(height uint64) <-chan error {
	ack := make(chan error, 1)
	p.queueMu.Lock()
	p.queue.Push(job{height: height, ackCh: ack}, -float32(height))
	p.queueMu.Unlock()
	select {
	case p.submitCh <- struct{}{}:
	default:
	}
	return ack
}

// TxsInFlight sums the in-flight count across every worker (spec.md §4.5
// getTxsInFlight), NaN-safe by construction since these are plain ints, not
// floats.
func (p *Pool) TxsInFlight() int {
	total := 0
	p.txInFlight.Range(func(_, v interface{}) bool {
		n, _ := v.(int)
		total += n
		return true
	})
	return total
}

func (p *Pool) emit(msg ProgressMsg) {
	select {
	case p.progressCh <- msg:
	default:
		logger.Warn("progress channel full, dropping message", "kind", msg.Kind)
	}
}
