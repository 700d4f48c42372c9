package scene

import (
	"time"

	"github.com/google/uuid"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// TriggerKind discriminates trigger definitions.
type TriggerKind string

const (
	// TriggerDeviceProperty fires when a device property equals a value.
	TriggerDeviceProperty TriggerKind = "device_property"

	// TriggerTime fires at a wall-clock time of day.
	TriggerTime TriggerKind = "time"

	// TriggerMotion fires when a motion sensor reports activity.
	TriggerMotion TriggerKind = "motion"

	// Threshold triggers compare a sensor reading against a bound.
	TriggerTemperature TriggerKind = "temperature"
	TriggerHumidity    TriggerKind = "humidity"
	TriggerLightLevel  TriggerKind = "light_level"
	TriggerSoundLevel  TriggerKind = "sound_level"
)

// AllTriggerKinds returns all valid trigger kinds.
func AllTriggerKinds() []TriggerKind {
	return []TriggerKind{
		TriggerDeviceProperty, TriggerTime, TriggerMotion,
		TriggerTemperature, TriggerHumidity, TriggerLightLevel, TriggerSoundLevel,
	}
}

// thresholdProperty maps a threshold trigger kind to the property it
// reads.
var thresholdProperty = map[TriggerKind]string{
	TriggerTemperature: device.PropTemperature,
	TriggerHumidity:    device.PropHumidity,
	TriggerLightLevel:  device.PropLightLevel,
	TriggerSoundLevel:  device.PropSoundLevel,
}

// Operator compares a sensor reading against a threshold.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
)

// AllOperators returns all valid operators.
func AllOperators() []Operator {
	return []Operator{OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpEqual}
}

// compare applies the operator to reading vs threshold.
func (o Operator) compare(reading, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return reading > threshold
	case OpGreaterEqual:
		return reading >= threshold
	case OpLessThan:
		return reading < threshold
	case OpLessEqual:
		return reading <= threshold
	case OpEqual:
		return reading == threshold
	default:
		return false
	}
}

// Trigger is one condition of a scene. All triggers of a scene must
// hold at once for the scene to fire. Only the fields relevant to Kind
// are used.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// TriggerDeviceProperty, TriggerMotion, and threshold kinds.
	DeviceID string `json:"device_id,omitempty"`

	// TriggerDeviceProperty.
	Property string       `json:"property,omitempty"`
	Value    device.Value `json:"value,omitempty"`

	// TriggerTime, 24h "HH:MM" local time.
	At string `json:"at,omitempty"`

	// Threshold kinds.
	Operator  Operator `json:"operator,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
}

// Action writes one property on one device. DelayMs defers this action
// and everything after it.
type Action struct {
	DeviceID string       `json:"device_id"`
	Property string       `json:"property"`
	Value    device.Value `json:"value"`
	DelayMs  int64        `json:"delay_ms,omitempty"`
}

// Delay returns the action's delay as a duration.
func (a Action) Delay() time.Duration {
	return time.Duration(a.DelayMs) * time.Millisecond
}

// Scene is a named automation: when every trigger holds, the actions
// run in order.
type Scene struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Triggers    []Trigger `json:"triggers"`
	Actions     []Action  `json:"actions"`

	// Active gates automatic evaluation. Inactive scenes can still be
	// executed manually.
	Active bool `json:"active"`

	// HighUrgency dispatches the scene's commands at high priority.
	HighUrgency bool `json:"high_urgency"`

	CreatedAt      time.Time  `json:"created_at"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	ExecutionCount int        `json:"execution_count"`
}

// DeepCopy returns an independent copy of the scene.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}
	out := *s
	if s.Triggers != nil {
		out.Triggers = make([]Trigger, len(s.Triggers))
		copy(out.Triggers, s.Triggers)
	}
	if s.Actions != nil {
		out.Actions = make([]Action, len(s.Actions))
		copy(out.Actions, s.Actions)
	}
	if s.LastExecutedAt != nil {
		t := *s.LastExecutedAt
		out.LastExecutedAt = &t
	}
	return &out
}

// GenerateID returns a new unique scene identifier.
func GenerateID() string {
	return uuid.New().String()
}

// ExecutionKind discriminates execution lifecycle events.
type ExecutionKind string

const (
	ExecutionStarted   ExecutionKind = "started"
	ExecutionCompleted ExecutionKind = "completed"
	ExecutionFailed    ExecutionKind = "failed"
)

// ExecutionEvent reports scene execution progress.
type ExecutionEvent struct {
	Kind          ExecutionKind `json:"kind"`
	SceneID       string        `json:"scene_id"`
	SceneName     string        `json:"scene_name"`
	ActionsTotal  int           `json:"actions_total"`
	ActionsDone   int           `json:"actions_done"`
	ActionsFailed int           `json:"actions_failed"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
