package dispatcher

import (
	"context"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// drain is the single queue worker. It blocks on the queue, resolves a
// transport per command, and re-enqueues failures that still have
// retries left.
func (d *Dispatcher) drain(ctx context.Context) {
	for d.queue.Wait(ctx) {
		cmd, ok := d.queue.Dequeue()
		if !ok {
			continue
		}
		d.send(ctx, cmd)
	}
}

func (d *Dispatcher) send(ctx context.Context, cmd transport.Command) {
	dev, err := d.cache.Get(cmd.DeviceID)
	if err != nil {
		d.logger.Warn("dropping command for unknown device",
			"command_id", cmd.ID, "device_id", cmd.DeviceID)
		d.emitResult(transport.Result{
			CommandID: cmd.ID,
			DeviceID:  cmd.DeviceID,
			Property:  cmd.Property,
			Err:       err,
			Timestamp: time.Now().UTC(),
		}, "")
		return
	}

	// Re-check writability at dispatch time; the property may have been
	// redefined while the command sat in the queue or offline buffer.
	if prop, ok := dev.Properties[cmd.Property]; ok && !prop.Writable {
		d.logger.Warn("dropping write to read-only property",
			"command_id", cmd.ID, "device_id", cmd.DeviceID, "property", cmd.Property)
		d.emitResult(transport.Result{
			CommandID: cmd.ID,
			DeviceID:  cmd.DeviceID,
			Property:  cmd.Property,
			Err:       device.ErrPropertyNotWritable,
			Timestamp: time.Now().UTC(),
		}, "")
		return
	}

	t, ok := d.pickTransport(dev.Transport)
	if !ok {
		// Everything went down while the command was queued.
		if err := d.queue.BufferOffline(cmd); err != nil {
			d.logger.Error("failed to buffer command offline",
				"command_id", cmd.ID, "error", err)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	res := t.SendCommand(sendCtx, dev, cmd)
	cancel()

	if res.Success {
		// Optimistically reflect the accepted write; the device's own
		// report will confirm or correct it.
		d.cache.UpdateProperty(cmd.DeviceID, cmd.Property, cmd.Value)
		d.emitResult(res, t.Kind())
		return
	}

	if cmd.Retries > 0 {
		cmd.Retries--
		d.logger.Debug("command failed, re-enqueueing",
			"command_id", cmd.ID, "device_id", cmd.DeviceID,
			"retries_left", cmd.Retries, "error", res.Err)
		if err := d.queue.Enqueue(cmd); err != nil {
			d.logger.Error("re-enqueue failed", "command_id", cmd.ID, "error", err)
			d.emitResult(res, t.Kind())
		}
		return
	}

	d.logger.Warn("command failed permanently",
		"command_id", cmd.ID, "device_id", cmd.DeviceID,
		"property", cmd.Property, "error", res.Err)
	d.emitResult(res, t.Kind())
}

func (d *Dispatcher) emitResult(res transport.Result, kind device.TransportKind) {
	d.events.Emit(transport.Event{
		Kind:      transport.EventCommandResult,
		Transport: kind,
		DeviceID:  res.DeviceID,
		Result:    &res,
	})
}

// startEventPump subscribes to a backend and forwards its events,
// applying each one to the cache before re-emission.
func (d *Dispatcher) startEventPump(ctx context.Context, reg *registration) {
	pumpCtx, cancel := context.WithCancel(ctx)
	reg.stop = cancel
	reg.sub = reg.t.Subscribe(d.cfg.EventBuffer)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case ev, ok := <-reg.sub.C:
				if !ok {
					return
				}
				d.handleEvent(ev)
			}
		}
	}()
}

// handleEvent applies a backend event to the cache, then re-emits it.
// The cache write always happens first so subscribers observe a cache
// at least as fresh as the event.
func (d *Dispatcher) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPropertyUpdated:
		d.cache.UpdateProperty(ev.DeviceID, ev.Property, ev.Value)

	case transport.EventDeviceStatusChanged:
		d.cache.SetOnline(ev.DeviceID, ev.Online)

	case transport.EventDeviceDiscovered:
		if ev.Device != nil {
			if err := d.cache.UpsertDevice(*ev.Device); err != nil {
				d.logger.Warn("discovered device rejected",
					"device_id", ev.DeviceID, "error", err)
			}
		}

	case transport.EventDeviceLost:
		d.cache.SetOnline(ev.DeviceID, false)

	case transport.EventConnectionChanged:
		if ev.Connected {
			if n := d.queue.FlushOffline(); n > 0 {
				d.logger.Info("transport back, offline commands requeued",
					"kind", ev.Transport, "count", n)
			}
		}

	case transport.EventError:
		d.logger.Error("transport error", "kind", ev.Transport, "error", ev.Err)
	}

	d.events.Emit(ev)
}
