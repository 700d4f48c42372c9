// Package room models the spatial layout of the home (rooms grouped
// into zones) and device groups: named collections of devices resolved
// either from an explicit member list, from membership conditions
// evaluated against live device state, or both.
package room
