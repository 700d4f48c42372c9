// Package lan implements the local network transport: a lightweight
// UDP protocol with JSON datagrams, in the spirit of the vendor LAN
// protocols most Wi-Fi home devices speak.
//
// Requests carry a monotonically increasing id; responses echo it.
// Devices push unsolicited "report" datagrams when a property changes,
// and answer a broadcast "hello" during discovery. Device addresses are
// learned from discovery and from any datagram a device sends.
package lan
