package delivery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/janael-pinheiro/envsensor-gateway/pkg/entities"
	"github.com/sirupsen/logrus"
)

// Result reports how one queued reading ended.
type Result struct {
	Address string
	Device  entities.Device
	Reading entities.Reading
	Outcome Outcome
	Err     error
}

// Worker delivers the readings of one device in order on its own goroutine.
// When the queue is full the oldest pending reading is discarded.
type Worker struct {
	overflowed uint64

	address  string
	client   *Client
	capacity int
	results  chan<- Result
	log      *logrus.Entry

	mu     sync.Mutex
	queue  []entities.Reading
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

func NewWorker(address string, client *Client, capacity int, results chan<- Result, log *logrus.Entry) *Worker {
	if capacity < 1 {
		capacity = 1
	}
	return &Worker{
		address:  address,
		client:   client,
		capacity: capacity,
		results:  results,
		log:      log.WithField("address", address),
		queue:    make([]entities.Reading, 0, capacity),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	go w.run(ctx)
}

func (w *Worker) Enqueue(reading entities.Reading) {
	w.mu.Lock()
	if len(w.queue) == w.capacity {
		w.queue = w.queue[1:]
		atomic.AddUint64(&w.overflowed, 1)
		w.log.Warn("delivery queue full, oldest reading discarded")
	}
	w.queue = append(w.queue, reading)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop cancels any in-flight delivery and waits for the goroutine to exit.
// Pending readings are discarded.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-w.done
}

// Pending returns the number of queued readings not yet picked up.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) Overflowed() uint64 {
	return atomic.LoadUint64(&w.overflowed)
}

func (w *Worker) next() (entities.Reading, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return entities.Reading{}, false
	}
	reading := w.queue[0]
	w.queue = w.queue[1:]
	return reading, true
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		for {
			reading, ok := w.next()
			if !ok {
				break
			}
			outcome, err := w.client.Send(ctx, reading)
			result := Result{
				Address: w.address,
				Device:  w.client.device,
				Reading: reading,
				Outcome: outcome,
				Err:     err,
			}
			select {
			case w.results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}
