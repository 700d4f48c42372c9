package influxdb

import (
	"context"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/scene"
)

// recorder is the write surface the sink needs from Client.
type recorder interface {
	WritePropertySample(deviceID, property string, value float64, timestamp time.Time)
	WriteOnlineTransition(deviceID string, online bool, timestamp time.Time)
	WriteSceneExecution(sceneID string, success bool, actionsDone int, timestamp time.Time)
}

// Sink streams cache changes and scene executions into the history
// store. Non-numeric property values are skipped; the in-memory rings
// remain the source for those.
type Sink struct {
	rec    recorder
	states *cache.StateCache

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSink creates a sink over the given client and cache.
func NewSink(client *Client, states *cache.StateCache) *Sink {
	return &Sink{rec: client, states: states}
}

// Run starts consuming the cache change stream. It returns immediately;
// consumption stops when ctx is cancelled or Stop is called.
func (s *Sink) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	sub := s.states.Subscribe(0)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Cancel()
		for {
			select {
			case <-runCtx.Done():
				return
			case change, ok := <-sub.C:
				if !ok {
					return
				}
				s.record(change)
			}
		}
	}()
}

// AttachSceneEvents consumes a scene execution stream until ctx is
// cancelled or the stream closes.
func (s *Sink) AttachSceneEvents(ctx context.Context, sub *scene.ExecutionSubscription) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				switch ev.Kind {
				case scene.ExecutionCompleted:
					s.rec.WriteSceneExecution(ev.SceneID, true, ev.ActionsDone, ev.Timestamp)
				case scene.ExecutionFailed:
					s.rec.WriteSceneExecution(ev.SceneID, false, ev.ActionsDone, ev.Timestamp)
				}
			}
		}
	}()
}

// Stop halts consumption and waits for in-flight writes to hand off.
func (s *Sink) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Sink) record(change cache.Change) {
	switch change.Kind {
	case cache.ChangePropertyChanged:
		if num, ok := change.New.Numeric(); ok {
			s.rec.WritePropertySample(change.DeviceID, change.Property, num, change.Timestamp)
			return
		}
		if b, ok := change.New.Bool(); ok {
			value := 0.0
			if b {
				value = 1.0
			}
			s.rec.WritePropertySample(change.DeviceID, change.Property, value, change.Timestamp)
		}
	case cache.ChangeOnlineChanged:
		s.rec.WriteOnlineTransition(change.DeviceID, change.Online, change.Timestamp)
	}
}
