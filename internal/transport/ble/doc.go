// Package ble implements an in-process Bluetooth Low Energy transport.
// Peripherals are simulated: each command is a short connect-write-read
// exchange against the peripheral's local state, and discovery returns
// whatever is currently advertising. Sensor-style peripherals can push
// advertisement frames that surface as property events.
package ble
