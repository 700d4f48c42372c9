package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect with disabled config = %v, want ErrDisabled", err)
	}
}

// fakeRecorder captures sink writes.
type fakeRecorder struct {
	mu       sync.Mutex
	samples  []string
	presence []string
	scenes   []string
}

func (f *fakeRecorder) WritePropertySample(deviceID, property string, value float64, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, deviceID+"/"+property)
}

func (f *fakeRecorder) WriteOnlineTransition(deviceID string, online bool, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, deviceID)
}

func (f *fakeRecorder) WriteSceneExecution(sceneID string, success bool, _ int, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes = append(f.scenes, sceneID)
}

func (f *fakeRecorder) sampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func (f *fakeRecorder) presenceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.presence)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func sinkDevice() device.Device {
	return device.Device{
		DID:       "sink-dev-1",
		Name:      "Sink Sensor",
		Type:      device.TypeSensor,
		Transport: device.TransportZigbee,
		Online:    true,
		Properties: map[string]device.Property{
			device.PropTemperature: {
				SIID: 4, PIID: 1, Name: device.PropTemperature,
				Type: device.PropertyFloat, Value: device.FloatValue(20),
				Readable: true,
			},
			device.PropMode: {
				SIID: 4, PIID: 2, Name: device.PropMode,
				Type: device.PropertyString, Value: device.StringValue("auto"),
				Readable: true, Writable: true,
			},
		},
	}
}

func TestSinkRecordsNumericChanges(t *testing.T) {
	sc := cache.New(cache.Config{})
	defer sc.Close()
	if err := sc.UpsertDevice(sinkDevice()); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	rec := &fakeRecorder{}
	sink := &Sink{rec: rec, states: sc}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Run(ctx)
	defer sink.Stop()

	sc.UpdateProperty("sink-dev-1", device.PropTemperature, device.FloatValue(22.5))
	waitFor(t, func() bool { return rec.sampleCount() == 1 })

	// String values are not written to the history store.
	sc.UpdateProperty("sink-dev-1", device.PropMode, device.StringValue("eco"))
	sc.UpdateProperty("sink-dev-1", device.PropTemperature, device.FloatValue(23))
	waitFor(t, func() bool { return rec.sampleCount() == 2 })

	rec.mu.Lock()
	first := rec.samples[0]
	rec.mu.Unlock()
	if first != "sink-dev-1/temperature" {
		t.Errorf("sample[0] = %q, want sink-dev-1/temperature", first)
	}
}

func TestSinkRecordsPresence(t *testing.T) {
	sc := cache.New(cache.Config{})
	defer sc.Close()
	if err := sc.UpsertDevice(sinkDevice()); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	rec := &fakeRecorder{}
	sink := &Sink{rec: rec, states: sc}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Run(ctx)
	defer sink.Stop()

	sc.SetOnline("sink-dev-1", false)
	waitFor(t, func() bool { return rec.presenceCount() == 1 })
}
