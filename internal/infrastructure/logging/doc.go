// Package logging builds the log/slog logger shared by every fahbridge
// component.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Every entry carries service and version. Components add their own tag:
//
//	log := logging.New(cfg.Logging, version)
//	bridgeLog := log.Component("bridge")
//
// Attributes named password, token, secret, key or one of the *_key
// variants are written as [REDACTED], whatever their value. Keep raw key
// material out of messages and other attributes regardless.
package logging
