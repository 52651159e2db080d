// Package events provides fire-and-forget sinks for ledger events.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/ethereum/go-ethereum/event"
)

const DefaultQueueSize = 256

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Sink mirrors ledger.EventSink.
type Sink interface {
	Emit(ev engine.Event)
}

// Envelope is the value delivered to Feed subscribers.
type Envelope struct {
	Sequence  uint64           `json:"sequence"`
	Type      engine.EventKind `json:"type"`
	Payload   engine.Event     `json:"payload"`
	EmittedAt int64            `json:"emittedAt"`
}

// Feed fans ledger events out to subscribers. Emit never blocks: events go through a
// bounded queue and are dropped, with a warning, when the queue is full.
type Feed struct {
	feed    event.Feed
	queue   chan engine.Event
	logger  Logger
	dropped atomic.Uint64

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewFeed(logger Logger, queueSize int) *Feed {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	f := &Feed{
		queue:  make(chan engine.Event, queueSize),
		logger: logger,
		quit:   make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

func (f *Feed) Emit(ev engine.Event) {
	select {
	case f.queue <- ev:
	default:
		n := f.dropped.Add(1)
		f.logger.Warn("Event queue full, dropping event", "type", ev.Kind(), "dropped_total", n)
	}
}

// Subscribe registers ch to receive every envelope sent after the call.
func (f *Feed) Subscribe(ch chan<- Envelope) event.Subscription {
	return f.feed.Subscribe(ch)
}

// Dropped reports how many events were discarded because the queue was full.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Close stops delivery. Queued events that were not yet delivered are discarded.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.quit)
	})
	f.wg.Wait()
}

func (f *Feed) loop() {
	defer f.wg.Done()
	var seq uint64
	for {
		select {
		case ev := <-f.queue:
			seq++
			f.feed.Send(Envelope{
				Sequence:  seq,
				Type:      ev.Kind(),
				Payload:   ev,
				EmittedAt: time.Now().UnixNano(),
			})
		case <-f.quit:
			return
		}
	}
}

// LogSink writes every event to a logger at Info level.
type LogSink struct {
	logger Logger
}

func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ev engine.Event) {
	s.logger.Info("Ledger event", "type", ev.Kind(), "event", ev)
}

// Multi forwards each event to every sink in order.
type Multi []Sink

func (m Multi) Emit(ev engine.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
