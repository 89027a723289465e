// Package config loads the fahbridge YAML configuration.
//
// Values are layered: built-in defaults, then the YAML file, then the
// environment. A .env file in the working directory is read into the
// environment first, so local secrets need not live in the YAML file.
//
//	FAHBRIDGE_SYSAP_HOST        sysap.host
//	FAHBRIDGE_SYSAP_PORT        sysap.port
//	FAHBRIDGE_SYSAP_USERNAME    sysap.username
//	FAHBRIDGE_SYSAP_PASSWORD    sysap.password
//	FAHBRIDGE_MQTT_HOST         mqtt.broker.host
//	FAHBRIDGE_MQTT_USERNAME     mqtt.auth.username
//	FAHBRIDGE_MQTT_PASSWORD     mqtt.auth.password
//	FAHBRIDGE_INFLUXDB_TOKEN    influxdb.token
//	FAHBRIDGE_LOG_LEVEL         logging.level
//
// Durations are whole seconds in the file; the Get* methods convert them.
// Validate reports every problem at once.
package config
