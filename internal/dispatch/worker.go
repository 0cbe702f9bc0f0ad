package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"formbridge/internal/metrics"
)

type job struct {
	submissionID uint
	keys         []string
}

// Worker is the asynchronous processing pool. Accepted submissions
// are queued here and picked up by a fixed set of goroutines, so slow
// plugin endpoints never hold up the HTTP handlers.
type Worker struct {
	processor   *Processor
	metrics     *metrics.Metrics
	jobs        chan job
	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// NewWorker creates a worker pool over the processor
func NewWorker(processor *Processor, m *metrics.Metrics, concurrency, queueSize int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		processor:   processor,
		metrics:     m,
		jobs:        make(chan job, queueSize),
		concurrency: concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the pool goroutines
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return
	}
	w.isRunning = true

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run()
	}
	logrus.WithField("concurrency", w.concurrency).Info("Submission worker started")
}

// Stop drains in-flight jobs and waits for the pool to exit
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	close(w.jobs)
	w.wg.Wait()
	logrus.Info("Submission worker stopped")
}

// Enqueue hands a submission to the pool. When the queue is full the
// job runs synchronously rather than being dropped: a submission must
// never be lost between acceptance and processing.
func (w *Worker) Enqueue(submissionID uint, keys []string) {
	select {
	case w.jobs <- job{submissionID: submissionID, keys: keys}:
		w.metrics.QueueDepth.Inc()
	default:
		logrus.WithField("submission", submissionID).
			Warn("Queue full, processing inline")
		w.processor.Process(w.ctx, submissionID, keys)
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for j := range w.jobs {
		w.metrics.QueueDepth.Dec()
		w.processor.Process(w.ctx, j.submissionID, j.keys)
	}
}
