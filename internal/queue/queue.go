package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Logger defines the logging interface used by the Queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config bounds the queue.
type Config struct {
	// OfflineLimit caps the offline buffer. Zero or negative falls back
	// to 100.
	OfflineLimit int

	// SubscriberBuffer is the default status stream buffer size.
	SubscriberBuffer int
}

// Status is a snapshot of queue depth published on every mutation.
type Status struct {
	Depth        int                        `json:"depth"`
	ByPriority   map[transport.Priority]int `json:"by_priority"`
	OfflineDepth int                        `json:"offline_depth"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// StatusSubscription is one consumer's view of the status stream.
type StatusSubscription struct {
	C <-chan Status

	ch     chan Status
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *StatusSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// Queue is the prioritised command queue. All methods are thread-safe.
type Queue struct {
	mu      sync.Mutex
	classes [5][]transport.Command
	offline []transport.Command
	signal  chan struct{}
	subs    map[int]*StatusSubscription
	nextSub int
	closed  bool
	cfg     Config
	logger  Logger
}

// New creates an empty queue.
func New(cfg Config) *Queue {
	if cfg.OfflineLimit <= 0 {
		cfg.OfflineLimit = 100
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 16
	}
	return &Queue{
		signal: make(chan struct{}, 1),
		subs:   make(map[int]*StatusSubscription),
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// Enqueue validates and admits one command.
func (q *Queue) Enqueue(cmd transport.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("enqueueing command: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.push(cmd)
	q.publishLocked()
	return nil
}

// EnqueueBatch admits every command or none: validation failure of any
// member rejects the whole batch.
func (q *Queue) EnqueueBatch(cmds []transport.Command) error {
	if len(cmds) == 0 {
		return ErrEmptyBatch
	}
	for i, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("batch member %d: %w", i, err)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	for _, cmd := range cmds {
		q.push(cmd)
	}
	q.publishLocked()
	return nil
}

// Dequeue removes and returns the most urgent command, FIFO within a
// priority class. The second return is false when the queue is empty.
func (q *Queue) Dequeue() (transport.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.classes {
		if len(q.classes[p]) == 0 {
			continue
		}
		cmd := q.classes[p][0]
		q.classes[p] = q.classes[p][1:]
		if q.sizeLocked() > 0 {
			q.wake()
		}
		q.publishLocked()
		return cmd, true
	}
	return transport.Command{}, false
}

// Wait blocks until the queue is non-empty, ctx is cancelled, or the
// queue is closed. A true return means a Dequeue is worth attempting.
func (q *Queue) Wait(ctx context.Context) bool {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return false
		}
		if q.sizeLocked() > 0 {
			q.mu.Unlock()
			return true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case _, ok := <-q.signal:
			if !ok {
				return false
			}
		}
	}
}

// Clear drops every queued command, live and offline, and returns how
// many were discarded.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.sizeLocked() + len(q.offline)
	for p := range q.classes {
		q.classes[p] = nil
	}
	q.offline = nil
	q.publishLocked()
	return n
}

// Size returns the number of live queued commands. The offline buffer
// is not included.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// BufferOffline stores a command for later flushing. When the buffer is
// full, the oldest buffered command is dropped to admit cmd.
func (q *Queue) BufferOffline(cmd transport.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("buffering command: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	if len(q.offline) >= q.cfg.OfflineLimit {
		dropped := q.offline[0]
		q.offline = q.offline[1:]
		q.logger.Warn("offline buffer full, dropping oldest command",
			"command_id", dropped.ID, "device_id", dropped.DeviceID)
	}
	q.offline = append(q.offline, cmd)
	q.publishLocked()
	return nil
}

// OfflineSize returns the number of buffered offline commands.
func (q *Queue) OfflineSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.offline)
}

// FlushOffline moves every buffered command into the live queue,
// preserving buffer order within each priority class. Each buffered
// command is flushed exactly once, no matter how many transports come
// up concurrently. Returns how many commands were moved.
func (q *Queue) FlushOffline() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.offline) == 0 {
		return 0
	}

	moved := len(q.offline)
	for _, cmd := range q.offline {
		q.push(cmd)
	}
	q.offline = nil
	q.publishLocked()
	q.logger.Info("offline buffer flushed", "count", moved)
	return moved
}

// Subscribe registers a status stream consumer. Slow consumers lose
// their oldest undelivered snapshot instead of blocking the queue.
func (q *Queue) Subscribe(buffer int) *StatusSubscription {
	if buffer <= 0 {
		buffer = q.cfg.SubscriberBuffer
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSub
	q.nextSub++

	ch := make(chan Status, buffer)
	sub := &StatusSubscription{C: ch, ch: ch}
	sub.cancel = func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(ch)
		}
	}
	if q.closed {
		close(ch)
		return sub
	}
	q.subs[id] = sub
	return sub
}

// Close rejects further enqueues, wakes waiters, and detaches every
// status subscriber. Queued commands are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
	for id, sub := range q.subs {
		delete(q.subs, id)
		close(sub.ch)
	}
}

// push must be called with q.mu held.
func (q *Queue) push(cmd transport.Command) {
	p := int(cmd.Priority)
	q.classes[p] = append(q.classes[p], cmd)
	q.wake()
}

// wake must be called with q.mu held.
func (q *Queue) wake() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) sizeLocked() int {
	n := 0
	for p := range q.classes {
		n += len(q.classes[p])
	}
	return n
}

// publishLocked must be called with q.mu held.
func (q *Queue) publishLocked() {
	if len(q.subs) == 0 {
		return
	}
	st := Status{
		Depth:        q.sizeLocked(),
		ByPriority:   make(map[transport.Priority]int, 5),
		OfflineDepth: len(q.offline),
		Timestamp:    time.Now().UTC(),
	}
	for p := range q.classes {
		if n := len(q.classes[p]); n > 0 {
			st.ByPriority[transport.Priority(p)] = n
		}
	}
	for _, sub := range q.subs {
		select {
		case sub.ch <- st:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- st:
			default:
			}
		}
	}
}
