package cloudws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Config holds the cloud relay settings.
type Config struct {
	// URL is the gateway WebSocket endpoint, e.g. "wss://relay.example.com/ws".
	URL string

	// Token authenticates the connection via the Authorization header.
	Token string

	// PingInterval keeps the connection alive, default 30s.
	PingInterval time.Duration

	// PongTimeout is how long to wait for traffic before declaring the
	// connection dead, default 60s.
	PongTimeout time.Duration

	// ReconnectMin and ReconnectMax bound the backoff between dial
	// attempts, defaults 1s and 60s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// RequestTimeout bounds a single request when the caller's context
	// carries no deadline, default 10s.
	RequestTimeout time.Duration
}

func (c *Config) normalize() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// frame is one message on the relay connection, either direction.
type frame struct {
	ID       int64           `json:"id,omitempty"`
	Type     string          `json:"type"` // "set", "get", "discover", "result", "state", "presence", "devices"
	DID      string          `json:"did,omitempty"`
	Property string          `json:"property,omitempty"`
	Value    *device.Value   `json:"value,omitempty"`
	OK       bool            `json:"ok,omitempty"`
	Error    string          `json:"error,omitempty"`
	Online   *bool           `json:"online,omitempty"`
	Device   *device.Device  `json:"device,omitempty"`
	Devices  []device.Device `json:"devices,omitempty"`
}

// Backend is the cloud relay transport.
type Backend struct {
	transport.Emitter

	cfg    Config
	logger transport.Logger
	locks  transport.DeviceLocks

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	pending   map[int64]chan frame
	inited    bool
	running   bool
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	nextID atomic.Int64

	statsMu    sync.Mutex
	errorCount int
	sends      int
	totalRTT   time.Duration
	lastBeat   time.Time
}

// New creates a cloud relay backend.
func New(cfg Config) *Backend {
	cfg.normalize()
	return &Backend{
		cfg:     cfg,
		logger:  transport.NopLogger(),
		pending: make(map[int64]chan frame),
	}
}

// SetLogger sets the logger for the backend.
func (b *Backend) SetLogger(logger transport.Logger) {
	b.logger = logger
}

// Kind identifies this backend.
func (b *Backend) Kind() device.TransportKind { return device.TransportWebSocket }

// Init validates the configuration.
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return transport.ErrAlreadyInitialized
	}
	if b.cfg.URL == "" {
		return fmt.Errorf("cloudws: gateway URL is required")
	}
	b.inited = true
	return nil
}

// Connect starts the connection manager. The first dial happens in the
// background; command submission before the link is up fails with
// ErrNotConnected and the dispatcher buffers instead.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inited {
		return transport.ErrNotInitialized
	}
	if b.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.manage(runCtx)
	}()
	return nil
}

// Disconnect stops the connection manager and closes the link.
func (b *Backend) Disconnect() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
}

// Connected reports whether the relay link is currently up.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SendCommand forwards one property write through the relay.
func (b *Backend) SendCommand(ctx context.Context, dev *device.Device, cmd transport.Command) transport.Result {
	res := transport.Result{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Property:  cmd.Property,
		Timestamp: time.Now().UTC(),
	}

	b.locks.Lock(cmd.DeviceID)
	defer b.locks.Unlock(cmd.DeviceID)

	value := cmd.Value
	reply, rtt, err := b.request(ctx, frame{
		Type:     "set",
		DID:      cmd.DeviceID,
		Property: cmd.Property,
		Value:    &value,
	})
	res.Duration = rtt
	if err != nil {
		res.Err = err
		return res
	}
	if !reply.OK {
		res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, reply.Error)
		return res
	}
	res.Success = true
	return res
}

// SendBatch forwards commands sequentially over the shared connection.
func (b *Backend) SendBatch(ctx context.Context, devs []*device.Device, cmds []transport.Command) []transport.Result {
	return transport.SequentialBatch(ctx, b, devs, cmds)
}

// QueryStatus asks the relay for a device's current state.
func (b *Backend) QueryStatus(ctx context.Context, dev *device.Device) transport.StatusResult {
	res := transport.StatusResult{Timestamp: time.Now().UTC()}

	reply, _, err := b.request(ctx, frame{Type: "get", DID: dev.DID})
	if err != nil {
		res.Err = err
		return res
	}
	if !reply.OK || reply.Device == nil {
		res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, reply.Error)
		return res
	}
	res.Success = true
	res.Device = reply.Device
	return res
}

// Discover asks the relay for the devices bound to this account.
func (b *Backend) Discover(ctx context.Context) ([]device.Device, error) {
	reply, _, err := b.request(ctx, frame{Type: "discover"})
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("cloudws: discovery rejected: %s", reply.Error)
	}
	return reply.Devices, nil
}

// Health reports link state and rolling request stats.
func (b *Backend) Health() transport.Health {
	connected := b.Connected()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	var avg time.Duration
	if b.sends > 0 {
		avg = b.totalRTT / time.Duration(b.sends)
	}
	return transport.Health{
		Healthy:         connected,
		Connected:       connected,
		LastHeartbeat:   b.lastBeat,
		ErrorCount:      b.errorCount,
		AvgResponseTime: avg,
		Quality:         transport.GradeQuality(connected, b.errorCount, avg),
	}
}

// Shutdown disconnects and releases the event stream.
func (b *Backend) Shutdown() {
	b.Disconnect()
	b.Close()
}

// manage dials, pumps and redials until ctx is cancelled.
func (b *Backend) manage(ctx context.Context) {
	backoff := b.cfg.ReconnectMin
	for {
		conn, err := b.dial(ctx)
		if err != nil {
			b.logger.Warn("cloud relay dial failed", "url", b.cfg.URL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > b.cfg.ReconnectMax {
				backoff = b.cfg.ReconnectMax
			}
			continue
		}
		backoff = b.cfg.ReconnectMin
		b.setConnected(conn)

		b.pump(ctx, conn)
		b.setDisconnected()
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
		b.logger.Info("cloud relay link lost, reconnecting")
	}
}

func (b *Backend) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.cfg.URL, header)
	return conn, err
}

func (b *Backend) setConnected(conn *websocket.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.mu.Unlock()
	b.statsMu.Lock()
	b.lastBeat = time.Now().UTC()
	b.statsMu.Unlock()

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: true})
	b.logger.Info("cloud relay connected", "url", b.cfg.URL)
}

func (b *Backend) setDisconnected() {
	b.mu.Lock()
	wasConnected := b.connected
	b.conn = nil
	b.connected = false
	for id, ch := range b.pending {
		delete(b.pending, id)
		close(ch)
	}
	b.mu.Unlock()

	if wasConnected {
		b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: false})
	}
}

// pump reads frames until the connection drops or ctx is cancelled,
// pinging on PingInterval to keep the link alive.
func (b *Backend) pump(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		b.touch()
		return conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout)) //nolint:errcheck

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(b.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				b.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				b.writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			}
		}
	}()
	defer close(pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.touch()
		conn.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout)) //nolint:errcheck

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.logger.Debug("dropping malformed relay frame")
			continue
		}
		b.handleFrame(f)
	}
}

func (b *Backend) handleFrame(f frame) {
	// Response to an in-flight request.
	if f.ID != 0 {
		b.mu.Lock()
		ch, ok := b.pending[f.ID]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
			return
		}
	}

	switch f.Type {
	case "state":
		if f.Value == nil {
			return
		}
		b.Emit(transport.Event{
			Kind:      transport.EventPropertyUpdated,
			Transport: b.Kind(),
			DeviceID:  f.DID,
			Property:  f.Property,
			Value:     *f.Value,
		})
	case "presence":
		if f.Online == nil {
			return
		}
		b.Emit(transport.Event{
			Kind:      transport.EventDeviceStatusChanged,
			Transport: b.Kind(),
			DeviceID:  f.DID,
			Online:    *f.Online,
		})
	case "devices":
		for i := range f.Devices {
			dev := f.Devices[i]
			b.Emit(transport.Event{
				Kind:      transport.EventDeviceDiscovered,
				Transport: b.Kind(),
				DeviceID:  dev.DID,
				Device:    &dev,
			})
		}
	}
}

// request writes one frame and waits for the correlated response.
func (b *Backend) request(ctx context.Context, f frame) (frame, time.Duration, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return frame{}, 0, transport.ErrNotConnected
	}
	conn := b.conn
	f.ID = b.nextID.Add(1)
	ch := make(chan frame, 1)
	b.pending[f.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, f.ID)
		b.mu.Unlock()
	}()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	data, err := json.Marshal(f)
	if err != nil {
		return frame{}, 0, fmt.Errorf("marshalling frame: %w", err)
	}

	start := time.Now()
	b.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
	if err != nil {
		b.recordError()
		return frame{}, 0, fmt.Errorf("writing frame: %w", err)
	}

	select {
	case <-ctx.Done():
		b.recordError()
		return frame{}, time.Since(start), transport.ErrTimeout
	case reply, ok := <-ch:
		rtt := time.Since(start)
		if !ok {
			return frame{}, rtt, transport.ErrNotConnected
		}
		b.recordRTT(rtt)
		return reply, rtt, nil
	}
}

func (b *Backend) touch() {
	b.statsMu.Lock()
	b.lastBeat = time.Now().UTC()
	b.statsMu.Unlock()
}

func (b *Backend) recordRTT(rtt time.Duration) {
	b.statsMu.Lock()
	b.sends++
	b.totalRTT += rtt
	b.statsMu.Unlock()
}

func (b *Backend) recordError() {
	b.statsMu.Lock()
	b.errorCount++
	b.statsMu.Unlock()
}
