package cache

import (
	"errors"
	"fmt"
	"testing"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

func testDevice(id string) device.Device {
	return device.Device{
		DID:        id,
		Name:      "Living Room Light",
		Type:      device.TypeLight,
		Transport: device.TransportLAN,
		RoomID:    "room-1",
		Online:    true,
		Properties: map[string]device.Property{
			device.PropPower: {
				Name:     device.PropPower,
				Type:     device.PropertyBool,
				Value:    device.BoolValue(false),
				Readable: true,
				Writable: true,
			},
			device.PropBrightness: {
				Name:     device.PropBrightness,
				Type:     device.PropertyInt,
				Value:    device.IntValue(40),
				Readable: true,
				Writable: true,
			},
		},
	}
}

func newTestCache(t *testing.T) *StateCache {
	t.Helper()
	c := New(Config{PropertyHistoryDepth: 5, ActivityLogDepth: 10, SubscriberBuffer: 16})
	t.Cleanup(c.Close)
	return c
}

func TestUpsertAndGet(t *testing.T) {
	c := newTestCache(t)

	if err := c.UpsertDevice(testDevice("dev-1")); err != nil {
		t.Fatalf("UpsertDevice() error: %v", err)
	}

	got, err := c.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "Living Room Light" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.LastSeenAt.IsZero() {
		t.Error("upsert should stamp LastSeenAt")
	}

	// Mutating the returned copy must not touch the cache.
	got.Name = "changed"
	again, _ := c.Get("dev-1")
	if again.Name != "Living Room Light" {
		t.Error("Get() returned a shared reference, not a copy")
	}

	if _, err := c.Get("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestUpsertRejectsInvalidDevice(t *testing.T) {
	c := newTestCache(t)
	bad := testDevice("dev-1")
	bad.Type = "spaceship"
	if err := c.UpsertDevice(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if c.Len() != 0 {
		t.Error("invalid device must not be stored")
	}
}

func TestUpdateProperty(t *testing.T) {
	c := newTestCache(t)
	if err := c.UpsertDevice(testDevice("dev-1")); err != nil {
		t.Fatal(err)
	}

	if !c.UpdateProperty("dev-1", device.PropPower, device.BoolValue(true)) {
		t.Fatal("expected change to be applied")
	}
	got, _ := c.Get("dev-1")
	if on, _ := got.Properties[device.PropPower].Value.Bool(); !on {
		t.Error("power value not applied")
	}

	// Same value again is a no-op.
	if c.UpdateProperty("dev-1", device.PropPower, device.BoolValue(true)) {
		t.Error("identical value should not count as a change")
	}

	// Unknown device and property are ignored.
	if c.UpdateProperty("ghost", device.PropPower, device.BoolValue(true)) {
		t.Error("unknown device should be ignored")
	}
	if c.UpdateProperty("dev-1", "no-such-prop", device.BoolValue(true)) {
		t.Error("unknown property should be ignored")
	}
}

func TestSetOnline(t *testing.T) {
	c := newTestCache(t)
	if err := c.UpsertDevice(testDevice("dev-1")); err != nil {
		t.Fatal(err)
	}

	if c.SetOnline("dev-1", true) {
		t.Error("already online, should be a no-op")
	}
	if !c.SetOnline("dev-1", false) {
		t.Error("offline transition should report a change")
	}
	got, _ := c.Get("dev-1")
	if got.Online {
		t.Error("online flag not applied")
	}
	if c.SetOnline("ghost", true) {
		t.Error("unknown device should be ignored")
	}
}

func TestListFilters(t *testing.T) {
	c := newTestCache(t)

	d1 := testDevice("dev-1")
	d2 := testDevice("dev-2")
	d2.RoomID = "room-2"
	d2.Type = device.TypeSensor
	d2.Online = false
	for _, d := range []device.Device{d1, d2} {
		if err := c.UpsertDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(c.ListAll()); got != 2 {
		t.Errorf("ListAll() len = %d, want 2", got)
	}
	if got := c.ListByRoom("room-1"); len(got) != 1 || got[0].DID != "dev-1" {
		t.Errorf("ListByRoom(room-1) = %v", got)
	}
	if got := c.ListByType(device.TypeSensor); len(got) != 1 || got[0].DID != "dev-2" {
		t.Errorf("ListByType(sensor) = %v", got)
	}
	if got := c.ListOnline(); len(got) != 1 || got[0].DID != "dev-1" {
		t.Errorf("ListOnline() = %v", got)
	}
}

func TestRemoveDevice(t *testing.T) {
	c := newTestCache(t)
	if err := c.UpsertDevice(testDevice("dev-1")); err != nil {
		t.Fatal(err)
	}
	if !c.RemoveDevice("dev-1") {
		t.Fatal("expected removal")
	}
	if c.RemoveDevice("dev-1") {
		t.Error("second removal should report absent")
	}
	if _, err := c.Get("dev-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Error("removed device still retrievable")
	}
}

func TestHistoryBounded(t *testing.T) {
	c := newTestCache(t) // depth 5
	if err := c.UpsertDevice(testDevice("dev-1")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 8; i++ {
		c.UpdateProperty("dev-1", device.PropBrightness, device.IntValue(int64(i+50)))
	}

	entries, err := c.HistoryFor("dev-1", device.PropBrightness, 0)
	if err != nil {
		t.Fatalf("HistoryFor() error: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("history len = %d, want 5 (bounded)", len(entries))
	}
	// Oldest first, newest retained.
	first, _ := entries[0].Value.Int()
	last, _ := entries[len(entries)-1].Value.Int()
	if first != 53 || last != 57 {
		t.Errorf("history window = [%d..%d], want [53..57]", first, last)
	}

	limited, _ := c.HistoryFor("dev-1", device.PropBrightness, 2)
	if len(limited) != 2 {
		t.Errorf("limited history len = %d, want 2", len(limited))
	}

	if _, err := c.HistoryFor("dev-1", "no-such-prop", 0); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("error = %v, want ErrPropertyNotFound", err)
	}
	if _, err := c.HistoryFor("ghost", device.PropPower, 0); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestActivityLogBounded(t *testing.T) {
	c := newTestCache(t) // activity depth 10
	if err := c.UpsertDevice(testDevice("dev-1")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		c.UpdateProperty("dev-1", device.PropBrightness, device.IntValue(int64(i)))
	}
	if got := len(c.Activity(0)); got != 10 {
		t.Errorf("activity len = %d, want 10", got)
	}
	if got := len(c.Activity(3)); got != 3 {
		t.Errorf("limited activity len = %d, want 3", got)
	}
}

func TestUpsertRecordsChangedPropertiesOnly(t *testing.T) {
	c := newTestCache(t)
	d := testDevice("dev-1")
	if err := c.UpsertDevice(d); err != nil {
		t.Fatal(err)
	}

	// Re-upsert with one property changed.
	d = testDevice("dev-1")
	p := d.Properties[device.PropBrightness]
	p.Value = device.IntValue(80)
	d.Properties[device.PropBrightness] = p
	if err := c.UpsertDevice(d); err != nil {
		t.Fatal(err)
	}

	bright, err := c.HistoryFor("dev-1", device.PropBrightness, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(bright) != 2 {
		t.Errorf("brightness history len = %d, want 2", len(bright))
	}
	power, err := c.HistoryFor("dev-1", device.PropPower, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(power) != 1 {
		t.Errorf("power history len = %d, want 1 (unchanged on re-upsert)", len(power))
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t)
	for i := 0; i < 10; i++ {
		if err := c.UpsertDevice(testDevice(fmt.Sprintf("dev-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			c.UpdateProperty(fmt.Sprintf("dev-%d", i%10), device.PropBrightness, device.IntValue(int64(i)))
		}
	}()
	for i := 0; i < 200; i++ {
		c.ListOnline()
		if _, err := c.Get(fmt.Sprintf("dev-%d", i%10)); err != nil {
			t.Errorf("Get() during writes: %v", err)
		}
	}
	<-done
}
