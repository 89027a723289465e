// Package xmpp implements the client side of the SysAP XMPP stream.
//
// It covers what the SysAP needs and nothing more: stream negotiation with
// optional STARTTLS, SCRAM-SHA-1 (or PLAIN) SASL, resource binding, IQ
// request/response correlation, presence, roster retrieval, XEP-0199
// keepalive pings, XEP-0030/0115 capability answers and XEP-0060 pub-sub
// event delivery.
//
// # Architecture
//
//	┌───────────┐  SendIQ   ┌──────────┐        ┌───────┐
//	│ rpc.Client│ ────────► │   Conn   │ ─────► │ SysAP │
//	└───────────┘ ◄──────── │ readLoop │ ◄───── │       │
//	                result  └────┬─────┘        └───────┘
//	                             │ pub-sub items
//	                             ▼
//	                      eventWorker ──► OnPubSub callback
//
// The read loop never blocks on callbacks: events are queued to a single
// worker, so a handler may issue further IQs on the same Conn.
package xmpp
