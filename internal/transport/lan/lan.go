package lan

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Config holds the LAN backend settings.
type Config struct {
	// ListenAddr is the local UDP address, default "0.0.0.0:54321".
	ListenAddr string

	// BroadcastAddr is where discovery hellos are sent, default
	// "255.255.255.255:54321".
	BroadcastAddr string

	// DiscoveryTimeout bounds a discovery sweep, default 3s.
	DiscoveryTimeout time.Duration

	// Devices maps device IDs to static "host:port" addresses for
	// devices that do not answer discovery.
	Devices map[string]string
}

func (c *Config) normalize() {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:54321"
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = "255.255.255.255:54321"
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 3 * time.Second
	}
}

// message is one UDP datagram, request or response.
type message struct {
	ID       int64          `json:"id,omitempty"`
	Method   string         `json:"method,omitempty"` // "set", "get", "hello", "report"
	DID      string         `json:"did,omitempty"`
	Property string         `json:"property,omitempty"`
	Value    *device.Value  `json:"value,omitempty"`
	OK       bool           `json:"ok,omitempty"`
	Error    string         `json:"error,omitempty"`
	Device   *device.Device `json:"device,omitempty"`
	Online   *bool          `json:"online,omitempty"`
}

// Backend is the LAN transport.
type Backend struct {
	transport.Emitter

	cfg    Config
	logger transport.Logger
	locks  transport.DeviceLocks

	mu        sync.Mutex
	conn      *net.UDPConn
	addrs     map[string]*net.UDPAddr
	pending   map[int64]chan message
	collector chan message // live during discovery
	inited    bool
	connected bool

	nextID atomic.Int64

	statsMu     sync.Mutex
	errorCount  int
	sends       int
	totalRTT    time.Duration
	lastTraffic time.Time

	wg sync.WaitGroup
}

// New creates a LAN backend.
func New(cfg Config) *Backend {
	cfg.normalize()
	return &Backend{
		cfg:     cfg,
		logger:  transport.NopLogger(),
		addrs:   make(map[string]*net.UDPAddr),
		pending: make(map[int64]chan message),
	}
}

// SetLogger sets the logger for the backend.
func (b *Backend) SetLogger(logger transport.Logger) {
	b.logger = logger
}

// Kind identifies this backend.
func (b *Backend) Kind() device.TransportKind { return device.TransportLAN }

// Init resolves the static device addresses.
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return transport.ErrAlreadyInitialized
	}
	for did, addr := range b.cfg.Devices {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("resolving %s for device %s: %w", addr, did, err)
		}
		b.addrs[did] = udpAddr
	}
	b.inited = true
	return nil
}

// Connect opens the UDP socket and starts the read loop.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inited {
		return transport.ErrNotInitialized
	}
	if b.connected {
		return nil
	}

	listenAddr, err := net.ResolveUDPAddr("udp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("opening udp socket: %w", err)
	}

	b.conn = conn
	b.connected = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.readLoop(conn)
	}()

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: true})
	b.logger.Info("lan transport connected", "listen", b.cfg.ListenAddr)
	return nil
}

// Disconnect closes the socket. The backend stays initialized.
func (b *Backend) Disconnect() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	conn := b.conn
	b.conn = nil
	for id, ch := range b.pending {
		delete(b.pending, id)
		close(ch)
	}
	b.mu.Unlock()

	conn.Close()
	b.wg.Wait()
	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: false})
}

// Connected reports whether the socket is open.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SendCommand writes one property over UDP and waits for the device's
// acknowledgement.
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
	reply, rtt, err := b.request(ctx, cmd.DeviceID, message{
		Method:   "set",
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

// SendBatch sends commands one by one; the protocol has no batching.
func (b *Backend) SendBatch(ctx context.Context, devs []*device.Device, cmds []transport.Command) []transport.Result {
	return transport.SequentialBatch(ctx, b, devs, cmds)
}

// QueryStatus asks a device for its full state.
func (b *Backend) QueryStatus(ctx context.Context, dev *device.Device) transport.StatusResult {
	res := transport.StatusResult{Timestamp: time.Now().UTC()}

	reply, _, err := b.request(ctx, dev.DID, message{Method: "get", DID: dev.DID})
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

// Discover broadcasts a hello and collects every device answering
// within the discovery window.
func (b *Backend) Discover(ctx context.Context) ([]device.Device, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil, transport.ErrNotConnected
	}
	conn := b.conn
	collector := make(chan message, 64)
	b.collector = collector
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.collector = nil
		b.mu.Unlock()
	}()

	broadcastAddr, err := net.ResolveUDPAddr("udp", b.cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}
	payload, err := json.Marshal(message{Method: "hello"})
	if err != nil {
		return nil, fmt.Errorf("marshalling hello: %w", err)
	}
	if _, err := conn.WriteToUDP(payload, broadcastAddr); err != nil {
		return nil, fmt.Errorf("broadcasting hello: %w", err)
	}

	var found []device.Device
	window := time.After(b.cfg.DiscoveryTimeout)
	for {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case <-window:
			return found, nil
		case msg := <-collector:
			if msg.Device != nil {
				found = append(found, *msg.Device)
			}
		}
	}
}

// Health reports socket state and rolling request stats.
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
		LastHeartbeat:   b.lastTraffic,
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

// request sends one datagram and waits for the response with the same
// id, bounded by ctx.
func (b *Backend) request(ctx context.Context, did string, msg message) (message, time.Duration, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return message{}, 0, transport.ErrNotConnected
	}
	conn := b.conn
	addr, ok := b.addrs[did]
	if !ok {
		b.mu.Unlock()
		return message{}, 0, fmt.Errorf("%w: no address for %s", transport.ErrDeviceUnreachable, did)
	}

	msg.ID = b.nextID.Add(1)
	ch := make(chan message, 1)
	b.pending[msg.ID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	payload, err := json.Marshal(msg)
	if err != nil {
		return message{}, 0, fmt.Errorf("marshalling request: %w", err)
	}

	start := time.Now()
	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		b.recordError()
		return message{}, 0, fmt.Errorf("sending to %s: %w", addr, err)
	}

	select {
	case <-ctx.Done():
		b.recordError()
		return message{}, time.Since(start), transport.ErrTimeout
	case reply, ok := <-ch:
		rtt := time.Since(start)
		if !ok {
			return message{}, rtt, transport.ErrNotConnected
		}
		b.recordRTT(rtt)
		return reply, rtt, nil
	}
}

// readLoop dispatches inbound datagrams until the socket closes.
func (b *Backend) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		var msg message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			b.logger.Debug("dropping malformed datagram", "remote", remote.String())
			continue
		}
		b.handleMessage(msg, remote)
	}
}

func (b *Backend) handleMessage(msg message, remote *net.UDPAddr) {
	b.touch()
	if msg.DID != "" {
		b.learnAddr(msg.DID, remote)
	}

	// Response to an in-flight request.
	if msg.ID != 0 {
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
			return
		}
	}

	switch msg.Method {
	case "report":
		if msg.Online != nil {
			b.Emit(transport.Event{
				Kind:      transport.EventDeviceStatusChanged,
				Transport: b.Kind(),
				DeviceID:  msg.DID,
				Online:    *msg.Online,
			})
			return
		}
		if msg.Value != nil {
			b.Emit(transport.Event{
				Kind:      transport.EventPropertyUpdated,
				Transport: b.Kind(),
				DeviceID:  msg.DID,
				Property:  msg.Property,
				Value:     *msg.Value,
			})
		}

	case "hello":
		if msg.Device == nil {
			return
		}
		b.mu.Lock()
		collector := b.collector
		b.mu.Unlock()
		if collector != nil {
			select {
			case collector <- msg:
			default:
			}
		}
		b.Emit(transport.Event{
			Kind:      transport.EventDeviceDiscovered,
			Transport: b.Kind(),
			DeviceID:  msg.DID,
			Device:    msg.Device,
		})
	}
}

func (b *Backend) learnAddr(did string, remote *net.UDPAddr) {
	b.mu.Lock()
	b.addrs[did] = remote
	b.mu.Unlock()
}

func (b *Backend) touch() {
	b.statsMu.Lock()
	b.lastTraffic = time.Now().UTC()
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
