// Package queue implements the prioritised command queue feeding the
// dispatcher, plus the bounded offline buffer for commands issued while
// no transport is available.
//
// Commands drain strictly by priority class (emergency first, batch
// last) and FIFO within a class. The queue itself does not send
// anything; a single drain worker in the dispatcher calls Wait and
// Dequeue in a loop.
//
// The offline buffer is bounded: when full, the oldest buffered command
// is dropped to admit the new one. Flush moves the buffered commands
// into the live queue exactly once, preserving their order.
package queue
