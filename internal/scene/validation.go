package scene

import (
	"fmt"
	"regexp"
)

const maxNameLength = 100

var timeOfDayRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Validate checks a scene definition. Triggers may be empty (such a
// scene is manual-only); at least one action is required.
func Validate(s *Scene) error {
	if s == nil {
		return fmt.Errorf("%w: nil scene", ErrInvalidScene)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidScene)
	}
	if s.Name == "" || len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidScene, maxNameLength)
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("%w: at least one action required", ErrInvalidScene)
	}
	for i, tr := range s.Triggers {
		if err := validateTrigger(tr); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	for i, a := range s.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

func validateTrigger(tr Trigger) error {
	switch tr.Kind {
	case TriggerDeviceProperty:
		if tr.DeviceID == "" || tr.Property == "" {
			return fmt.Errorf("%w: device_id and property required", ErrInvalidTrigger)
		}
		if tr.Value.IsZero() {
			return fmt.Errorf("%w: comparison value required", ErrInvalidTrigger)
		}
	case TriggerTime:
		if !timeOfDayRe.MatchString(tr.At) {
			return fmt.Errorf("%w: at must be HH:MM, got %q", ErrInvalidTrigger, tr.At)
		}
	case TriggerMotion:
		if tr.DeviceID == "" {
			return fmt.Errorf("%w: device_id required", ErrInvalidTrigger)
		}
	case TriggerTemperature, TriggerHumidity, TriggerLightLevel, TriggerSoundLevel:
		if tr.DeviceID == "" {
			return fmt.Errorf("%w: device_id required", ErrInvalidTrigger)
		}
		if !validOperator(tr.Operator) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidTrigger, tr.Operator)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTrigger, tr.Kind)
	}
	return nil
}

func validateAction(a Action) error {
	if a.DeviceID == "" {
		return fmt.Errorf("%w: empty device_id", ErrInvalidAction)
	}
	if a.Property == "" {
		return fmt.Errorf("%w: empty property", ErrInvalidAction)
	}
	if a.Value.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidAction)
	}
	if a.DelayMs < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidAction)
	}
	return nil
}

func validOperator(o Operator) bool {
	for _, v := range AllOperators() {
		if o == v {
			return true
		}
	}
	return false
}
