package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// Priority orders commands in the dispatch queue. Lower ordinal means
// more urgent; Emergency always drains before High, and so on down to
// Batch. Within one priority class ordering is FIFO.
type Priority int

const (
	PriorityEmergency Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBatch
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBatch:
		return "batch"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined priority classes.
func (p Priority) Valid() bool {
	return p >= PriorityEmergency && p <= PriorityBatch
}

// ParsePriority converts a wire name back to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "emergency":
		return PriorityEmergency, nil
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "batch":
		return PriorityBatch, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// AllPriorities returns the priority classes in drain order.
func AllPriorities() []Priority {
	return []Priority{PriorityEmergency, PriorityHigh, PriorityNormal, PriorityLow, PriorityBatch}
}

// NoRetry marks a command that must not be retried even when the
// dispatcher carries a non-zero default retry count. A zero Retries
// field means "use the configured default".
const NoRetry = -1

// Command is a request to write one property on one device. Commands
// are value types; the dispatcher resolves the target Device at send
// time so queued commands never hold a stale snapshot.
type Command struct {
	ID        string
	DeviceID  string
	Property  string
	Value     device.Value
	Priority  Priority
	Retries   int
	Timeout   time.Duration
	CreatedAt time.Time
}

// NewCommand builds a command with a fresh ID and the given defaults.
func NewCommand(deviceID, property string, value device.Value, priority Priority, retries int, timeout time.Duration) Command {
	return Command{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Property:  property,
		Value:     value,
		Priority:  priority,
		Retries:   retries,
		Timeout:   timeout,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the command's shape before it enters the queue.
func (c Command) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidCommand)
	}
	if c.Property == "" {
		return fmt.Errorf("%w: empty property name", ErrInvalidCommand)
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(c.Priority))
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidCommand)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: non-positive timeout", ErrInvalidCommand)
	}
	return nil
}

// Result reports the outcome of one command attempt.
type Result struct {
	CommandID string
	DeviceID  string
	Property  string
	Success   bool
	Err       error
	Response  device.Value
	Duration  time.Duration
	Timestamp time.Time
}

// StatusResult reports the outcome of a device status query. Device is
// a snapshot owned by the caller when Success is true.
type StatusResult struct {
	Success   bool
	Device    *device.Device
	Err       error
	Timestamp time.Time
}

// ConnectionQuality grades a transport's link based on its recent error
// rate and latency.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityDead      ConnectionQuality = "dead"
)

// Health describes a transport's current condition.
type Health struct {
	Healthy         bool
	Connected       bool
	LastHeartbeat   time.Time
	ErrorCount      int
	AvgResponseTime time.Duration
	Quality         ConnectionQuality
	Detail          string
}

// GradeQuality derives a quality band from error count and average
// response time. A disconnected transport is always dead.
func GradeQuality(connected bool, errorCount int, avg time.Duration) ConnectionQuality {
	switch {
	case !connected:
		return QualityDead
	case errorCount == 0 && avg < 200*time.Millisecond:
		return QualityExcellent
	case errorCount < 5 && avg < time.Second:
		return QualityGood
	default:
		return QualityPoor
	}
}

// Transport is the contract every backend implements. Implementations
// must be safe for concurrent use; SendCommand and QueryStatus must
// honour ctx cancellation and the command timeout.
type Transport interface {
	// Kind identifies the network technology this backend speaks.
	Kind() device.TransportKind

	// Init prepares the backend. It must be called exactly once before
	// any other method.
	Init(ctx context.Context) error

	// Connect establishes the link. The dispatcher retries failed
	// connects; Connect must be safe to call repeatedly.
	Connect(ctx context.Context) error

	// Disconnect drops the link but leaves the backend initialized.
	Disconnect()

	// Connected reports whether the link is currently up.
	Connected() bool

	// SendCommand writes one property on the target device. The command
	// carries its own timeout; the result's Err explains any failure.
	SendCommand(ctx context.Context, dev *device.Device, cmd Command) Result

	// SendBatch executes commands in order and returns one result per
	// command, in the same order. Devices are resolved by the caller
	// and passed parallel to cmds.
	SendBatch(ctx context.Context, devs []*device.Device, cmds []Command) []Result

	// QueryStatus fetches the authoritative state of one device.
	QueryStatus(ctx context.Context, dev *device.Device) StatusResult

	// Discover scans for devices reachable over this transport. Backends
	// without discovery return ErrUnsupported.
	Discover(ctx context.Context) ([]device.Device, error)

	// Health reports the current link condition.
	Health() Health

	// Subscribe registers a consumer for backend events.
	Subscribe(buffer int) *Subscription

	// Shutdown disconnects and releases all resources. The backend is
	// unusable afterwards.
	Shutdown()
}

// SequentialBatch is a default SendBatch implementation for backends
// whose protocol has no native batching. It stops early only when ctx
// is cancelled, filling the remaining results with the ctx error.
func SequentialBatch(ctx context.Context, t Transport, devs []*device.Device, cmds []Command) []Result {
	results := make([]Result, len(cmds))
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(cmds); j++ {
				results[j] = Result{
					CommandID: cmds[j].ID,
					DeviceID:  cmds[j].DeviceID,
					Property:  cmds[j].Property,
					Err:       err,
					Timestamp: time.Now().UTC(),
				}
			}
			return results
		}
		results[i] = t.SendCommand(ctx, devs[i], cmd)
	}
	return results
}

// Logger is the minimal logging interface the transport layer needs.
// Satisfied by *slog.Logger.
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

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return noopLogger{} }
