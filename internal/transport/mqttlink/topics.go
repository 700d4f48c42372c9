package mqttlink

import (
	"fmt"
	"strings"
)

// Topic scheme: rinlink/devices/{did}/{set|ack|state|online} plus
// rinlink/discovery/{scan|announce} and rinlink/system/status.
const topicPrefix = "rinlink"

// Topics provides builders for the MQTT topic hierarchy. Using these
// helpers keeps topic naming consistent between this backend and device
// firmware.
type Topics struct{}

// DeviceSet is where commands for a device are published.
func (Topics) DeviceSet(did string) string {
	return fmt.Sprintf("%s/devices/%s/set", topicPrefix, did)
}

// DeviceAck is where a device acknowledges commands.
func (Topics) DeviceAck(did string) string {
	return fmt.Sprintf("%s/devices/%s/ack", topicPrefix, did)
}

// DeviceState is where a device publishes property changes.
func (Topics) DeviceState(did string) string {
	return fmt.Sprintf("%s/devices/%s/state", topicPrefix, did)
}

// DeviceOnline is the retained presence topic for a device.
func (Topics) DeviceOnline(did string) string {
	return fmt.Sprintf("%s/devices/%s/online", topicPrefix, did)
}

// AllDeviceAcks matches every device's ack topic.
func (Topics) AllDeviceAcks() string {
	return topicPrefix + "/devices/+/ack"
}

// AllDeviceStates matches every device's state topic.
func (Topics) AllDeviceStates() string {
	return topicPrefix + "/devices/+/state"
}

// AllDeviceOnline matches every device's presence topic.
func (Topics) AllDeviceOnline() string {
	return topicPrefix + "/devices/+/online"
}

// DiscoveryScan is where scan requests are published.
func (Topics) DiscoveryScan() string {
	return topicPrefix + "/discovery/scan"
}

// DiscoveryAnnounce is where devices announce themselves.
func (Topics) DiscoveryAnnounce() string {
	return topicPrefix + "/discovery/announce"
}

// SystemStatus is the controller's own presence topic, used for the LWT.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// deviceIDFromTopic extracts the device ID from a per-device topic.
// Returns "" when the topic does not match the scheme.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != topicPrefix || parts[1] != "devices" {
		return ""
	}
	return parts[2]
}
