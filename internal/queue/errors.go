package queue

import "errors"

// Domain errors for the queue package.
var (
	// ErrClosed is returned when enqueueing on a closed queue.
	ErrClosed = errors.New("queue: closed")

	// ErrEmptyBatch is returned when an empty batch is enqueued.
	ErrEmptyBatch = errors.New("queue: empty batch")
)
