// Package dispatcher owns the transport registry and routes commands
// from the queue to a connected backend.
//
// Transport selection is static: lan beats zigbee beats websocket beats
// ble beats mqtt. A device's own transport kind is preferred when that
// backend is connected; otherwise the dispatcher walks the priority
// order and takes the first connected backend. When nothing is
// connected the command lands in the offline buffer, and the buffer is
// flushed once on the next reconnect.
//
// One drain worker services the queue. Backend events are applied to
// the state cache before they are re-emitted to dispatcher subscribers,
// so anyone reacting to an event can immediately read a cache at least
// as new as it.
package dispatcher
