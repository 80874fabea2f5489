// Package msgs provides the event records published to presentation layers.
package msgs

// Records are encoded with protobuf on MQTT and as JSON on the websocket
// feed. Payload bytes of frames are carried verbatim.
//
// Producer: station
// Consumer: monitors, dashboards
