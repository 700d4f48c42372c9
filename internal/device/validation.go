package device

import (
	"fmt"

	"github.com/google/uuid"
)

// Validation limits.
const (
	maxNameLength = 120
	maxTagLength  = 64
)

// ValidateDevice checks a device for structural errors.
//
// It verifies identity, enumeration membership, and that every property's
// value kind matches its declared type. It does not check transport
// reachability; that is the dispatcher's concern.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if d.DID == "" {
		return fmt.Errorf("%w: empty did", ErrInvalidDevice)
	}
	if d.Name == "" || len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDevice, maxNameLength)
	}
	if !validDeviceType(d.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, d.Type)
	}
	if !validTransportKind(d.Transport) {
		return fmt.Errorf("%w: %q", ErrInvalidTransportKind, d.Transport)
	}

	for name, p := range d.Properties {
		if name == "" {
			return fmt.Errorf("%w: empty property name", ErrInvalidDevice)
		}
		if name != p.Name {
			return fmt.Errorf("%w: property key %q does not match name %q", ErrInvalidDevice, name, p.Name)
		}
		if err := ValidateValue(p, p.Value); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}

	for _, tag := range d.Tags {
		if len(tag) > maxTagLength {
			return fmt.Errorf("%w: tag %q too long", ErrInvalidDevice, tag)
		}
	}

	return nil
}

// ValidateValue checks that a value is acceptable for the given property:
// the kind matches the declared type and the value is within range.
// An unset value is always acceptable (properties may not have reported yet).
func ValidateValue(p Property, v Value) error {
	if v.IsZero() {
		return nil
	}
	if v.Kind != p.Type {
		return fmt.Errorf("%w: got %q, declared %q", ErrValueTypeMismatch, v.Kind, p.Type)
	}

	if p.Range == nil {
		return nil
	}

	if n, ok := v.Numeric(); ok {
		if p.Range.Min != nil && n < *p.Range.Min {
			return fmt.Errorf("%w: %g below minimum %g", ErrValueOutOfRange, n, *p.Range.Min)
		}
		if p.Range.Max != nil && n > *p.Range.Max {
			return fmt.Errorf("%w: %g above maximum %g", ErrValueOutOfRange, n, *p.Range.Max)
		}
		return nil
	}

	if s, ok := v.String(); ok && v.Kind == PropertyEnum && len(p.Range.Enum) > 0 {
		for _, allowed := range p.Range.Enum {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("%w: %q not in enum set", ErrValueOutOfRange, s)
	}

	return nil
}

// validDeviceType reports whether the device type is a known value.
func validDeviceType(t DeviceType) bool {
	for _, valid := range AllDeviceTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// validTransportKind reports whether the transport kind is a known value.
func validTransportKind(k TransportKind) bool {
	for _, valid := range AllTransportKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
