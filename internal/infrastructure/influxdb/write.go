package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePropertySample records one property value at a point in time.
//
// Bool values are stored as 0/1 so they can be graphed and aggregated
// alongside numeric properties.
func (c *Client) WritePropertySample(deviceID, property string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"property_history",
		map[string]string{
			"device_id": deviceID,
			"property":  property,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// WriteOnlineTransition records a device going online or offline.
func (c *Client) WriteOnlineTransition(deviceID string, online bool, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if online {
		value = 1.0
	}
	point := write.NewPoint(
		"device_presence",
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"online": value},
		timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// WriteSceneExecution records one scene run for later analysis.
func (c *Client) WriteSceneExecution(sceneID string, success bool, actionsDone int, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	status := 0.0
	if success {
		status = 1.0
	}
	point := write.NewPoint(
		"scene_executions",
		map[string]string{"scene_id": sceneID},
		map[string]interface{}{
			"success":      status,
			"actions_done": actionsDone,
		},
		timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements the helpers do not
// cover. Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
