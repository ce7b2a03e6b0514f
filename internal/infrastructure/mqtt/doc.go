// Package mqtt wraps paho.mqtt.golang for the hub's broker mirror.
//
// It handles connection setup, Last Will and Testament on the system status
// topic, automatic reconnection with subscription restore, and publishing with
// bounded waits. Topic names are built with Topics so every caller agrees on
// the hierarchy:
//
//	<prefix>/state/<device_id>    retained device records
//	<prefix>/command/<device_id>  commands into the hub
//	<prefix>/ack/<device_id>      routing results
//	<prefix>/system/status        hub online/offline (LWT)
package mqtt
