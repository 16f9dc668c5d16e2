// Package progress renders sync progress to a terminal: current height,
// blocks/sec, workers busy. Colored with github.com/fatih/color over
// github.com/mattn/go-colorable (so color codes degrade gracefully when
// stdout isn't a TTY, e.g. under a process supervisor), sampled with
// github.com/aristanetworks/goarista/monotime for monotonic elapsed-time
// math immune to wall-clock adjustments.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aristanetworks/goarista/monotime"
	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"

	"github.com/xloem/vartex/internal/metrics"
	"github.com/xloem/vartex/internal/workerpool"
)

// Renderer consumes a workerpool.Pool's progress channel and prints a
// one-line status update on every block:new message.
type Renderer struct {
	out io.Writer

	mu         sync.Mutex
	startNanos uint64
	imported   uint64
	lastPrint  time.Time
}

// New builds a Renderer. When out is an *os.File, it's wrapped with
// colorable.NewColorable so ANSI codes render (or degrade) the way the
// attached console expects; any other writer (e.g. a test buffer) is used
// as-is.
func New(out io.Writer) *Renderer {
	w := out
	if f, ok := out.(*os.File); ok {
		w = colorable.NewColorable(f)
	}
	return &Renderer{out: w, startNanos: monotime.Now()}
}

// Run drains ch until it's closed, printing one line per block:new and
// log:info message; each block line carries the current busy-worker count.
func (r *Renderer) Run(ch <-chan workerpool.ProgressMsg) {
	busy := make(map[string]bool)

	for msg := range ch {
		switch msg.Kind {
		case workerpool.KindReady:
			busy[msg.WorkerID] = false
		case workerpool.KindTxInFlight:
			busy[msg.WorkerID] = msg.TxInFlight > 0
			metrics.SetTxInFlight(countBusy(busy))
		case workerpool.KindBlockNew:
			r.onBlockNew(msg, countBusy(busy))
		case workerpool.KindLogInfo:
			fmt.Fprintf(r.out, "%s %s\n", color.CyanString("[worker]"), msg.Message)
		}
	}
}

func countBusy(busy map[string]bool) int {
	n := 0
	for _, b := range busy {
		if b {
			n++
		}
	}
	return n
}

func (r *Renderer) onBlockNew(msg workerpool.ProgressMsg, workersBusy int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Err != nil {
		fmt.Fprintf(r.out, "%s height=%d err=%v\n", color.RedString("[import failed]"), msg.Height, msg.Err)
		return
	}

	r.imported++
	elapsedSeconds := float64(monotime.Now()-r.startNanos) / float64(time.Second)
	rate := float64(r.imported) / elapsedSeconds

	fmt.Fprintf(
		r.out,
		"%s height=%d imported=%d rate=%.2f/s workers_busy=%d\n",
		color.GreenString("[block]"), msg.Height, r.imported, rate, workersBusy,
	)
	r.lastPrint = time.Now()
}
