package broker

import (
	"fmt"
	"sync"

	"github.com/orris-inc/sidecar/internal/shared/goroutine"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// delivery is one handler invocation queued on the bus.
type delivery struct {
	name string
	run  func() error
}

// eventBus runs event and channel handlers on a fixed pool of workers.
type eventBus struct {
	log     logger.Interface
	workers int

	mu      sync.RWMutex
	running bool
	queue   chan delivery
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newEventBus(log logger.Interface, workers, bufferSize int) *eventBus {
	if workers <= 0 {
		workers = 4
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &eventBus{
		log:     log,
		workers: workers,
		queue:   make(chan delivery, bufferSize),
		stopCh:  make(chan struct{}),
	}
}

// publish enqueues d without blocking.
func (b *eventBus) publish(d delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return fmt.Errorf("event bus is not running")
	}

	select {
	case b.queue <- d:
		return nil
	default:
		return fmt.Errorf("event bus is full, dropping %s", d.name)
	}
}

func (b *eventBus) start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("event bus is already running")
	}
	b.running = true

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.process()
		}()
	}
	return nil
}

// stop refuses new deliveries, drains the queue and waits for the workers.
func (b *eventBus) stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("event bus is not running")
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()
	return nil
}

func (b *eventBus) process() {
	for {
		select {
		case <-b.stopCh:
			for {
				select {
				case d := <-b.queue:
					b.handle(d)
				default:
					return
				}
			}
		case d := <-b.queue:
			b.handle(d)
		}
	}
}

func (b *eventBus) handle(d delivery) {
	goroutine.Guard(b.log, "event:"+d.name, func() {
		if err := d.run(); err != nil {
			b.log.Warnw("event handler failed",
				"event", d.name,
				"error", err,
			)
		}
	})()
}
