package scene

import (
	"context"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Submitter queues a command for dispatch. Satisfied by the dispatcher.
type Submitter interface {
	Submit(cmd transport.Command) error
}

// EngineConfig tunes the evaluation loop.
type EngineConfig struct {
	// Debounce batches bursts of state changes into one evaluation.
	Debounce time.Duration

	// TickInterval drives time-of-day triggers.
	TickInterval time.Duration

	// EventBuffer sizes the cache subscription and the execution event
	// stream.
	EventBuffer int
}

func (c *EngineConfig) normalize() {
	if c.Debounce <= 0 {
		c.Debounce = 200 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

// ExecutionSubscription is one consumer's view of the execution event
// stream.
type ExecutionSubscription struct {
	C <-chan ExecutionEvent

	ch     chan ExecutionEvent
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *ExecutionSubscription) Cancel() {
	s.once.Do(s.cancel)
}

// Engine evaluates scenes against the state cache and executes the
// ones whose triggers just became satisfied.
type Engine struct {
	registry *Registry
	states   *cache.StateCache
	submit   Submitter
	cfg      EngineConfig
	logger   Logger

	mu            sync.Mutex
	lastSatisfied map[string]bool
	subs          map[int]*ExecutionSubscription
	nextSub       int
	stopped       bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEngine creates a scene engine.
func NewEngine(registry *Registry, states *cache.StateCache, submit Submitter, cfg EngineConfig) *Engine {
	cfg.normalize()
	return &Engine{
		registry:      registry,
		states:        states,
		submit:        submit,
		cfg:           cfg,
		logger:        noopLogger{},
		lastSatisfied: make(map[string]bool),
		subs:          make(map[int]*ExecutionSubscription),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Subscribe registers an execution event consumer.
func (e *Engine) Subscribe(buffer int) *ExecutionSubscription {
	if buffer <= 0 {
		buffer = e.cfg.EventBuffer
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++

	ch := make(chan ExecutionEvent, buffer)
	sub := &ExecutionSubscription{C: ch, ch: ch}
	sub.cancel = func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	if e.stopped {
		close(ch)
		return sub
	}
	e.subs[id] = sub
	return sub
}

// Run starts the evaluation loop. It returns immediately; call Stop to
// halt.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	// Subscribe before the loop goroutine starts so changes made right
	// after Run returns are never missed.
	sub := e.states.Subscribe(e.cfg.EventBuffer)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx, sub)
	}()
}

// Stop halts evaluation and waits for in-flight executions.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub.ch)
	}
	e.mu.Unlock()
	e.logger.Info("scene engine stopped")
}

// Execute runs a scene immediately, bypassing its triggers. Inactive
// scenes can be executed manually.
func (e *Engine) Execute(ctx context.Context, sceneID string) error {
	s, err := e.registry.Get(sceneID)
	if err != nil {
		return err
	}

	// The stopped check and the Add share one critical section so an
	// execution can never start after Stop has begun waiting.
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.execute(ctx, s)
	}()
	return nil
}

func (e *Engine) loop(ctx context.Context, sub *cache.Subscription) {
	defer sub.Cancel()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-sub.C:
			if !ok {
				return
			}
			// First change of a burst arms the debounce window.
			if debounceC == nil {
				debounce = time.NewTimer(e.cfg.Debounce)
				debounceC = debounce.C
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			e.evaluate(ctx)

		case <-ticker.C:
			e.evaluate(ctx)
		}
	}
}

// evaluate checks every active scene and fires the ones that just
// transitioned from unsatisfied to satisfied.
func (e *Engine) evaluate(ctx context.Context) {
	now := time.Now()
	snap := e.snapshot()
	for _, s := range e.registry.ListActive() {
		s := s
		sat := e.satisfied(&s, snap, now)

		e.mu.Lock()
		prev := e.lastSatisfied[s.ID]
		e.lastSatisfied[s.ID] = sat
		e.mu.Unlock()

		if !sat || prev {
			continue
		}

		e.logger.Info("scene triggered", "scene_id", s.ID, "name", s.Name)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.execute(ctx, &s)
		}()
	}
}

// snapshot captures every cached device in one read pass so all
// triggers of one evaluation see the same world, even while writers
// keep mutating the cache.
func (e *Engine) snapshot() map[string]device.Device {
	devices := e.states.ListAll()
	snap := make(map[string]device.Device, len(devices))
	for _, d := range devices {
		snap[d.DID] = d
	}
	return snap
}

// satisfied reports whether every trigger of the scene holds in the
// snapshot. A scene without triggers is manual-only and never fires
// automatically.
func (e *Engine) satisfied(s *Scene, snap map[string]device.Device, now time.Time) bool {
	if len(s.Triggers) == 0 {
		return false
	}
	for _, tr := range s.Triggers {
		if !evalTrigger(tr, snap, now) {
			return false
		}
	}
	return true
}

func evalTrigger(tr Trigger, snap map[string]device.Device, now time.Time) bool {
	switch tr.Kind {
	case TriggerTime:
		return now.Format("15:04") == tr.At

	case TriggerDeviceProperty:
		v, ok := propertyValue(snap, tr.DeviceID, tr.Property)
		return ok && v.Equal(tr.Value)

	case TriggerMotion:
		v, ok := propertyValue(snap, tr.DeviceID, device.PropMotion)
		if !ok {
			return false
		}
		active, ok := v.Bool()
		return ok && active

	case TriggerTemperature, TriggerHumidity, TriggerLightLevel, TriggerSoundLevel:
		v, ok := propertyValue(snap, tr.DeviceID, thresholdProperty[tr.Kind])
		if !ok {
			return false
		}
		reading, ok := v.Numeric()
		return ok && tr.Operator.compare(reading, tr.Threshold)

	default:
		return false
	}
}

func propertyValue(snap map[string]device.Device, deviceID, property string) (device.Value, bool) {
	dev, ok := snap[deviceID]
	if !ok {
		return device.Value{}, false
	}
	prop, ok := dev.Properties[property]
	if !ok || prop.Value.IsZero() {
		return device.Value{}, false
	}
	return prop.Value, true
}

// execute dispatches the scene's actions in order, honouring delays,
// then records the execution exactly once.
func (e *Engine) execute(ctx context.Context, s *Scene) {
	e.emit(ExecutionEvent{
		Kind:         ExecutionStarted,
		SceneID:      s.ID,
		SceneName:    s.Name,
		ActionsTotal: len(s.Actions),
	})

	priority := transport.PriorityNormal
	if s.HighUrgency {
		priority = transport.PriorityHigh
	}

	done := 0
	failed := 0
	for _, a := range s.Actions {
		if d := a.Delay(); d > 0 {
			select {
			case <-ctx.Done():
				e.fail(s, done, failed, "cancelled")
				return
			case <-time.After(d):
			}
		}

		// Actions aimed at devices or properties the cache does not
		// know, or at read-only properties, are skipped and counted as
		// failed rather than aborting the whole scene.
		if !e.resolveAction(a) {
			failed++
			e.logger.Warn("scene action skipped, target unresolved",
				"scene_id", s.ID, "device_id", a.DeviceID, "property", a.Property)
			continue
		}

		cmd := transport.NewCommand(a.DeviceID, a.Property, a.Value, priority, 0, 0)
		if err := e.submit.Submit(cmd); err != nil {
			e.logger.Error("scene action failed",
				"scene_id", s.ID, "device_id", a.DeviceID,
				"property", a.Property, "error", err)
			e.fail(s, done, failed, err.Error())
			return
		}
		done++
	}

	if err := e.registry.MarkExecuted(ctx, s.ID, time.Now()); err != nil {
		e.logger.Warn("failed to record scene execution", "scene_id", s.ID, "error", err)
	}

	e.emit(ExecutionEvent{
		Kind:          ExecutionCompleted,
		SceneID:       s.ID,
		SceneName:     s.Name,
		ActionsTotal:  len(s.Actions),
		ActionsDone:   done,
		ActionsFailed: failed,
	})
	e.logger.Info("scene executed",
		"scene_id", s.ID, "name", s.Name, "actions", done, "skipped", failed)
}

// resolveAction reports whether the action targets a writable property
// the cache currently knows about.
func (e *Engine) resolveAction(a Action) bool {
	dev, err := e.states.Get(a.DeviceID)
	if err != nil {
		return false
	}
	prop, ok := dev.Properties[a.Property]
	return ok && prop.Writable
}

func (e *Engine) fail(s *Scene, done, failed int, reason string) {
	e.emit(ExecutionEvent{
		Kind:          ExecutionFailed,
		SceneID:       s.ID,
		SceneName:     s.Name,
		ActionsTotal:  len(s.Actions),
		ActionsDone:   done,
		ActionsFailed: failed,
		Error:         reason,
	})
}

func (e *Engine) emit(ev ExecutionEvent) {
	ev.Timestamp = time.Now().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}
