// Package mqtt connects the free@home bridge to an MQTT broker.
//
// Client wraps paho.mqtt.golang. It validates topics and QoS before
// publishing, replays subscriptions after paho reconnects, recovers
// panicking handlers, and announces itself on {prefix}/system/status. The
// Last Will defaults to an offline status on the same topic; the bridge
// replaces it with its own health topic through WithWill.
//
// Topics builds every topic the bridge uses under one configurable prefix:
//
//	{prefix}/state/fah/{kind}/{key}     retained device state
//	{prefix}/command/fah/{kind}/{key}   commands in
//	{prefix}/ack/fah/{kind}/{key}       command acknowledgments
//	{prefix}/request/fah/{id}           read and discovery requests
//	{prefix}/response/fah/{id}          request results
//	{prefix}/health/fah                 retained bridge health
//	{prefix}/discovery/fah              retained device list
//
// TLS to the broker is enabled with mqtt.broker.tls; payloads are not
// encrypted beyond the transport.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithTopicPrefix("graylogic"),
//	    mqtt.WithWill(healthTopic, lwtPayload),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
