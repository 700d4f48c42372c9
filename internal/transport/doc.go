// Package transport defines the contract every device transport backend
// implements, plus the shared command, result, and event types that flow
// between backends and the dispatcher.
//
// A Transport owns one network technology (LAN, Zigbee, cloud WebSocket,
// BLE, MQTT). Backends live in subpackages and are registered with the
// dispatcher at startup. The dispatcher never reaches into a backend
// beyond this interface.
//
// Event delivery is channel based: consumers call Subscribe on a backend
// and read from the returned subscription. Each subscriber has its own
// bounded buffer; when a slow subscriber falls behind, the oldest
// undelivered event is dropped rather than blocking the backend. Events
// for a single subscriber always arrive in emission order, so a consumer
// that processes its channel sequentially never observes two callbacks
// for the same device racing each other.
package transport
