// Package cloudws implements the cloud relay transport: a persistent
// WebSocket client connection to a vendor gateway. Requests carry an id
// and a pending map correlates responses; the gateway pushes unsolicited
// state, presence and discovery frames for cloud-managed devices. The
// connection reconnects with exponential backoff and is kept alive with
// protocol-level pings.
package cloudws
