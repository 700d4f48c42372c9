// Package mqttlink implements the MQTT transport for broker-attached
// devices. Commands are published to a per-device set topic and matched
// against acknowledgements by request id; devices publish state to a
// per-device state topic and presence to a retained online topic.
// Discovery publishes a scan request and collects announce messages.
//
// The paho client auto-reconnects with exponential backoff; the session
// carries a Last Will so peers can tell a crash from a graceful exit.
package mqttlink
