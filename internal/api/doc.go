// Package api provides the HTTP REST API and WebSocket push server.
//
// It exposes device state, command submission, history, discovery,
// scenes, rooms and device groups to user interfaces, and relays cache
// changes and scene executions to WebSocket subscribers in real time.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// All methods are safe for concurrent use.
package api
