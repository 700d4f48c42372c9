// Package zigbee implements an in-process Zigbee transport backed by a
// simulated coordinator. Devices join and leave the mesh through the
// coordinator, commands mutate the simulated device state, and joined
// devices push property reports through the standard event stream.
//
// The simulation keeps the full transport contract observable without
// radio hardware: reachability can be toggled per device, and every
// state change flows through the same events a hardware coordinator
// would produce.
package zigbee
