package cache

import "errors"

// Domain errors for the cache package.
var (
	// ErrDeviceNotFound is returned when a device ID is not in the cache.
	ErrDeviceNotFound = errors.New("cache: device not found")

	// ErrPropertyNotFound is returned when a device has no such property.
	ErrPropertyNotFound = errors.New("cache: property not found")

	// ErrClosed is returned when the cache is used after Close.
	ErrClosed = errors.New("cache: closed")
)
