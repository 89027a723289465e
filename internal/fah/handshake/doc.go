// Package handshake runs the encrypted login to a SysAP.
//
// Firmware 2.3 and later accept control commands only inside an
// authenticated encrypted session. The session is set up with four RPC
// round trips over the XMPP stream:
//
//	exchangeLocalKeys   local key → signed hub key, session id
//	cryptMessage        new-session (plaintext) → session token
//	cryptMessage        SASL login (sealed) → SCRAM challenge
//	cryptMessage        SASL response (sealed) → server signature
//
// The Machine tracks the state between the steps. Each step completes
// before the next is sent; a failure at any step is terminal for the
// Machine and the caller builds a new one, with fresh keys, to retry.
package handshake
