package mqttlink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Connection constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
)

// Config holds the broker connection settings.
type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	TLS      bool

	// QoS for command and state traffic, default 1.
	QoS byte

	// ReconnectMin and ReconnectMax bound the paho retry backoff,
	// defaults 1s and 60s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// RequestTimeout bounds an ack wait when the caller's context
	// carries no deadline, default 10s.
	RequestTimeout time.Duration

	// DiscoveryTimeout bounds a discovery sweep, default 3s.
	DiscoveryTimeout time.Duration
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.ClientID == "" {
		c.ClientID = "rinlink-core"
	}
	if c.QoS == 0 {
		c.QoS = 1
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
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 3 * time.Second
	}
}

// setPayload is the command message published to a device's set topic.
type setPayload struct {
	RequestID string       `json:"request_id"`
	Property  string       `json:"property"`
	Value     device.Value `json:"value"`
}

// ackPayload is the device's acknowledgement.
type ackPayload struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// statePayload is a device-initiated property report.
type statePayload struct {
	Property string       `json:"property"`
	Value    device.Value `json:"value"`
}

// onlinePayload is the device presence message.
type onlinePayload struct {
	Online bool `json:"online"`
}

// Backend is the MQTT transport.
type Backend struct {
	transport.Emitter

	cfg    Config
	logger transport.Logger
	locks  transport.DeviceLocks

	client pahomqtt.Client

	mu        sync.Mutex
	pending   map[string]chan ackPayload
	collector chan device.Device
	inited    bool
	connected bool

	statsMu    sync.Mutex
	errorCount int
	sends      int
	totalRTT   time.Duration
	lastBeat   time.Time
}

// New creates an MQTT backend.
func New(cfg Config) *Backend {
	cfg.normalize()
	return &Backend{
		cfg:     cfg,
		logger:  transport.NopLogger(),
		pending: make(map[string]chan ackPayload),
	}
}

// SetLogger sets the logger for the backend.
func (b *Backend) SetLogger(logger transport.Logger) {
	b.logger = logger
}

// Kind identifies this backend.
func (b *Backend) Kind() device.TransportKind { return device.TransportMQTT }

// Init builds the paho client. The broker is not contacted until Connect.
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return transport.ErrAlreadyInitialized
	}
	if b.cfg.Host == "" {
		return fmt.Errorf("mqttlink: broker host is required")
	}

	opts := b.buildClientOptions()
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		b.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.handleDisconnect(err)
	})

	b.client = pahomqtt.NewClient(opts)
	b.inited = true
	return nil
}

func (b *Backend) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if b.cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, b.cfg.Host, b.cfg.Port))
	opts.SetClientID(b.cfg.ClientID)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(b.cfg.ReconnectMin)
	opts.SetMaxReconnectInterval(b.cfg.ReconnectMax)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// Last Will so peers can tell a crash from a graceful exit.
	will := fmt.Sprintf(`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect"}`, b.cfg.ClientID)
	opts.SetWill(Topics{}.SystemStatus(), will, 1, true)

	return opts
}

// Connect establishes the broker connection and subscribes to the
// device topics.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	if !b.inited {
		b.mu.Unlock()
		return transport.ErrNotInitialized
	}
	client := b.client
	b.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("mqttlink: connect timeout after %v", defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttlink: connecting to broker: %w", err)
	}

	// The OnConnect handler runs asynchronously; mark connected here so
	// Connected() is true as soon as Connect returns.
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

// handleConnect runs on initial connect and every reconnect. Paho does
// not persist subscriptions across clean sessions, so they are restored
// here.
func (b *Backend) handleConnect() {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.touch()

	topics := Topics{}
	b.client.Subscribe(topics.AllDeviceAcks(), b.cfg.QoS, b.wrapHandler(b.handleAck))
	b.client.Subscribe(topics.AllDeviceStates(), b.cfg.QoS, b.wrapHandler(b.handleState))
	b.client.Subscribe(topics.AllDeviceOnline(), b.cfg.QoS, b.wrapHandler(b.handleOnline))
	b.client.Subscribe(topics.DiscoveryAnnounce(), b.cfg.QoS, b.wrapHandler(b.handleAnnounce))

	status := fmt.Sprintf(`{"status":"online","client_id":"%s"}`, b.cfg.ClientID)
	b.client.Publish(topics.SystemStatus(), 1, true, status)

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: true})
	b.logger.Info("mqtt transport connected", "broker", b.cfg.Host)
}

func (b *Backend) handleDisconnect(err error) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: false})
	b.logger.Warn("mqtt connection lost", "error", err)
}

// Disconnect publishes a graceful offline status and closes the
// connection. The backend stays initialized.
func (b *Backend) Disconnect() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	client := b.client
	b.mu.Unlock()

	status := fmt.Sprintf(`{"status":"offline","client_id":"%s","reason":"shutdown"}`, b.cfg.ClientID)
	token := client.Publish(Topics{}.SystemStatus(), 1, true, status)
	token.WaitTimeout(defaultPublishTimeout)
	client.Disconnect(defaultDisconnectQuiesce)

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: false})
}

// Connected reports whether the broker connection is up.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && b.client != nil && b.client.IsConnected()
}

// SendCommand publishes one property write and waits for the device's
// acknowledgement.
func (b *Backend) SendCommand(ctx context.Context, dev *device.Device, cmd transport.Command) transport.Result {
	res := transport.Result{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Property:  cmd.Property,
		Timestamp: time.Now().UTC(),
	}

	if !b.Connected() {
		res.Err = transport.ErrNotConnected
		return res
	}

	b.locks.Lock(cmd.DeviceID)
	defer b.locks.Unlock(cmd.DeviceID)

	requestID := uuid.New().String()
	payload, err := json.Marshal(setPayload{
		RequestID: requestID,
		Property:  cmd.Property,
		Value:     cmd.Value,
	})
	if err != nil {
		res.Err = fmt.Errorf("marshalling command: %w", err)
		return res
	}

	ch := make(chan ackPayload, 1)
	b.mu.Lock()
	b.pending[requestID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	token := b.client.Publish(Topics{}.DeviceSet(cmd.DeviceID), b.cfg.QoS, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		b.recordError()
		res.Err = transport.ErrTimeout
		return res
	}
	if err := token.Error(); err != nil {
		b.recordError()
		res.Err = fmt.Errorf("publishing command: %w", err)
		return res
	}

	select {
	case <-ctx.Done():
		b.recordError()
		res.Duration = time.Since(start)
		res.Err = transport.ErrTimeout
		return res
	case ack := <-ch:
		res.Duration = time.Since(start)
		if !ack.OK {
			b.recordError()
			res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, ack.Error)
			return res
		}
		b.recordRTT(res.Duration)
		res.Success = true
		return res
	}
}

// SendBatch publishes commands sequentially.
func (b *Backend) SendBatch(ctx context.Context, devs []*device.Device, cmds []transport.Command) []transport.Result {
	return transport.SequentialBatch(ctx, b, devs, cmds)
}

// QueryStatus is not part of the topic scheme; devices publish state on
// change and presence retained, so the cache stays current without
// polling.
func (b *Backend) QueryStatus(ctx context.Context, dev *device.Device) transport.StatusResult {
	return transport.StatusResult{
		Err:       fmt.Errorf("%w: mqtt devices push state", transport.ErrUnsupported),
		Timestamp: time.Now().UTC(),
	}
}

// Discover publishes a scan request and collects announces within the
// discovery window.
func (b *Backend) Discover(ctx context.Context) ([]device.Device, error) {
	if !b.Connected() {
		return nil, transport.ErrNotConnected
	}

	collector := make(chan device.Device, 64)
	b.mu.Lock()
	b.collector = collector
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.collector = nil
		b.mu.Unlock()
	}()

	token := b.client.Publish(Topics{}.DiscoveryScan(), b.cfg.QoS, false, []byte(`{}`))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return nil, transport.ErrTimeout
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publishing scan request: %w", err)
	}

	var found []device.Device
	window := time.After(b.cfg.DiscoveryTimeout)
	for {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case <-window:
			return found, nil
		case dev := <-collector:
			found = append(found, dev)
		}
	}
}

// Health reports broker connectivity and rolling command stats.
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

// Message handlers. Paho invokes these on its own goroutines.

func (b *Backend) handleAck(topic string, payload []byte) error {
	var ack ackPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("parsing ack: %w", err)
	}

	b.mu.Lock()
	ch, ok := b.pending[ack.RequestID]
	b.mu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
	return nil
}

func (b *Backend) handleState(topic string, payload []byte) error {
	did := deviceIDFromTopic(topic)
	if did == "" {
		return nil
	}
	var state statePayload
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("parsing state: %w", err)
	}

	b.touch()
	b.Emit(transport.Event{
		Kind:      transport.EventPropertyUpdated,
		Transport: b.Kind(),
		DeviceID:  did,
		Property:  state.Property,
		Value:     state.Value,
	})
	return nil
}

func (b *Backend) handleOnline(topic string, payload []byte) error {
	did := deviceIDFromTopic(topic)
	if did == "" {
		return nil
	}
	var presence onlinePayload
	if err := json.Unmarshal(payload, &presence); err != nil {
		return fmt.Errorf("parsing presence: %w", err)
	}

	b.touch()
	b.Emit(transport.Event{
		Kind:      transport.EventDeviceStatusChanged,
		Transport: b.Kind(),
		DeviceID:  did,
		Online:    presence.Online,
	})
	return nil
}

func (b *Backend) handleAnnounce(_ string, payload []byte) error {
	var dev device.Device
	if err := json.Unmarshal(payload, &dev); err != nil {
		return fmt.Errorf("parsing announce: %w", err)
	}
	dev.Transport = device.TransportMQTT

	b.mu.Lock()
	collector := b.collector
	b.mu.Unlock()
	if collector != nil {
		select {
		case collector <- dev:
		default:
		}
	}

	b.Emit(transport.Event{
		Kind:      transport.EventDeviceDiscovered,
		Transport: b.Kind(),
		DeviceID:  dev.DID,
		Device:    dev.DeepCopy(),
	})
	return nil
}

// wrapHandler adds panic recovery around a message handler.
func (b *Backend) wrapHandler(handler func(topic string, payload []byte) error) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			b.logger.Warn("mqtt handler error", "topic", msg.Topic(), "error", err)
		}
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
