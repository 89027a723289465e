// Package fah bridges a free@home System Access Point onto MQTT.
//
// The bridge publishes the state of every discovered device as a retained
// message, executes commands received over MQTT through the SysAP
// session, and answers read and discovery requests.
//
// # Topics
//
//	{prefix}/state/fah/{kind}/{key}      device state, retained
//	{prefix}/command/fah/{kind}/{key}    commands to a device
//	{prefix}/ack/fah/{kind}/{key}        command acknowledgments
//	{prefix}/request/fah/{request_id}    read_state, read_all, discover
//	{prefix}/response/fah/{request_id}   request responses
//	{prefix}/discovery/fah               discovered devices, retained
//	{prefix}/health/fah                  bridge health, retained, also the LWT
//
// A key such as "ABB700D12345/ch0003" is written with "/" encoded as "%2F"
// so that it stays a single topic level.
//
// # Commands
//
//	light:      on, off, dim{level}, color_temp{kelvin}, rgb{r,g,b}
//	cover:      open, close, stop, set_position{position}, set_tilt{tilt},
//	            force_position{position: none|open|closed}
//	thermostat: on, off, eco, set_temperature{temperature}
//	scene:      activate
//	lock:       lock, unlock
//
// Sensors and binary sensors are read-only.
package fah
