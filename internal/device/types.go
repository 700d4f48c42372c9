package device

import "time"

// Device represents one controllable or monitorable entity in the home.
//
// A device is owned by exactly one transport at a time (Transport field);
// the DID is unique across the whole system regardless of transport.
type Device struct {
	// Identity
	DID  string `json:"did"`
	Name string `json:"name"`

	// Classification
	Type DeviceType `json:"type"`

	// Transport currently owning this device.
	Transport TransportKind `json:"transport"`

	// Placement (optional)
	RoomID string `json:"room_id,omitempty"`
	Zone   string `json:"zone,omitempty"`

	// Metadata
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`

	// Presence
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`

	// Properties keyed by property name.
	Properties map[string]Property `json:"properties"`

	// Capabilities and free-form labels.
	Capabilities []Capability `json:"capabilities,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
}

// Property is one named, typed, addressable attribute of a device.
//
// SIID/PIID form the transport-scoped numeric address of the property;
// Name is unique within the owning device.
type Property struct {
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
	Name string `json:"name"`

	Value Value        `json:"value"`
	Type  PropertyType `json:"type"`

	Readable bool `json:"readable"`
	Writable bool `json:"writable"`

	Range *ValueRange `json:"range,omitempty"`
	Unit  string      `json:"unit,omitempty"`

	LastUpdatedAt time.Time `json:"last_updated_at,omitempty"`
}

// ValueRange constrains a numeric or enumerated property value.
type ValueRange struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Properties != nil {
		cpy.Properties = make(map[string]Property, len(d.Properties))
		for name, p := range d.Properties {
			cpy.Properties[name] = p.DeepCopy()
		}
	}

	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}

	if d.Tags != nil {
		cpy.Tags = make([]string, len(d.Tags))
		copy(cpy.Tags, d.Tags)
	}

	return &cpy
}

// DeepCopy returns an independent copy of the Property.
func (p Property) DeepCopy() Property {
	cpy := p
	cpy.Value = p.Value.DeepCopy()
	if p.Range != nil {
		r := *p.Range
		if p.Range.Enum != nil {
			r.Enum = make([]string, len(p.Range.Enum))
			copy(r.Enum, p.Range.Enum)
		}
		cpy.Range = &r
	}
	return cpy
}

// HasCapability reports whether the device declares the given capability.
func (d *Device) HasCapability(c Capability) bool {
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// DeviceType represents the kind of device.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// Device type constants.
const (
	TypeLight      DeviceType = "light"
	TypeSwitch     DeviceType = "switch"
	TypeSensor     DeviceType = "sensor"
	TypeThermostat DeviceType = "thermostat"
	TypeCamera     DeviceType = "camera"
	TypeLock       DeviceType = "lock"
	TypeCurtain    DeviceType = "curtain"
	TypeClimate    DeviceType = "climate"
	TypeFan        DeviceType = "fan"
	TypeSpeaker    DeviceType = "speaker"
	TypeTV         DeviceType = "tv"
	TypeAppliance  DeviceType = "appliance"
	TypeVacuum     DeviceType = "vacuum"
	TypeOther      DeviceType = "other"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		TypeLight, TypeSwitch, TypeSensor, TypeThermostat, TypeCamera,
		TypeLock, TypeCurtain, TypeClimate, TypeFan, TypeSpeaker,
		TypeTV, TypeAppliance, TypeVacuum, TypeOther,
	}
}

// TransportKind identifies a communication backend.
type TransportKind string

// Transport kind constants, in default selection priority order.
const (
	TransportLAN       TransportKind = "lan"
	TransportZigbee    TransportKind = "zigbee"
	TransportWebSocket TransportKind = "websocket"
	TransportBLE       TransportKind = "ble"
	TransportMQTT      TransportKind = "mqtt"

	// Declared for configuration compatibility; no backend ships for these yet.
	TransportWiFi   TransportKind = "wifi"
	TransportThread TransportKind = "thread"
	TransportMatter TransportKind = "matter"
)

// AllTransportKinds returns all valid transport kinds.
func AllTransportKinds() []TransportKind {
	return []TransportKind{
		TransportLAN, TransportZigbee, TransportWebSocket, TransportBLE,
		TransportMQTT, TransportWiFi, TransportThread, TransportMatter,
	}
}

// Capability represents what a device can do.
type Capability string

// Capability constants.
const (
	CapOnOff         Capability = "on_off"
	CapDimming       Capability = "dimming"
	CapColor         Capability = "color"
	CapTemperature   Capability = "temperature"
	CapHumidity      Capability = "humidity"
	CapMotion        Capability = "motion"
	CapLightSensor   Capability = "light_sensor"
	CapSound         Capability = "sound"
	CapSchedule      Capability = "schedule"
	CapScene         Capability = "scene"
	CapGroup         Capability = "group"
	CapRemote        Capability = "remote"
	CapVoice         Capability = "voice"
	CapEnergyMonitor Capability = "energy_monitor"
)

// AllCapabilities returns all valid capability values.
func AllCapabilities() []Capability {
	return []Capability{
		CapOnOff, CapDimming, CapColor, CapTemperature, CapHumidity,
		CapMotion, CapLightSensor, CapSound, CapSchedule, CapScene,
		CapGroup, CapRemote, CapVoice, CapEnergyMonitor,
	}
}

// Well-known property names shared by transports and the scene engine.
const (
	PropPower       = "power"
	PropBrightness  = "brightness"
	PropColorTemp   = "color_temp"
	PropColorRGB    = "rgb"
	PropTemperature = "temperature"
	PropHumidity    = "humidity"
	PropMotion      = "motion"
	PropLightLevel  = "light_level"
	PropSoundLevel  = "sound_level"
	PropBattery     = "battery"
	PropSignal      = "signal"
	PropTargetTemp  = "target_temp"
	PropFanSpeed    = "fan_speed"
	PropMode        = "mode"
	PropPosition    = "position"
	PropAngle       = "angle"
	PropLocked      = "locked"
	PropDoorStatus  = "door_status"
	PropAlarm       = "alarm"
)
