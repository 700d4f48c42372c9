package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device DID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrPropertyNotFound is returned when a property name does not exist on a device.
	ErrPropertyNotFound = errors.New("device: property not found")

	// ErrPropertyNotWritable is returned when a write targets a read-only property.
	ErrPropertyNotWritable = errors.New("device: property not writable")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidTransportKind is returned when a transport kind is not recognised.
	ErrInvalidTransportKind = errors.New("device: invalid transport kind")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	ErrInvalidDeviceType = errors.New("device: invalid type")

	// ErrInvalidPropertyType is returned when a property type is not recognised.
	ErrInvalidPropertyType = errors.New("device: invalid property type")

	// ErrValueOutOfRange is returned when a value violates the property's declared range.
	ErrValueOutOfRange = errors.New("device: value out of range")

	// ErrValueTypeMismatch is returned when a value's kind does not match the property's declared type.
	ErrValueTypeMismatch = errors.New("device: value type mismatch")
)
