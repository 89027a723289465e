// Package secure implements the cryptography of the SysAP encrypted
// transport.
//
// The hub and client agree on a box (Curve25519, XSalsa20-Poly1305)
// shared secret during key exchange. The exchange is authenticated with a
// Poly1305 tag keyed by a BLAKE2b hash of a PBKDF2-derived password key.
// Requests are sealed with that secret; the hub's replies are sealed with
// a random nonce the client chose and remembered. After login the hub
// delivers a symmetric secretbox key used for pub-sub update payloads,
// whose sequence numbers are checked against a bounded skip window.
//
// # Key Types
//
//   - Engine: per-connection key material, encrypt and decrypt
//   - ScramLogin: client side of the in-band SCRAM-SHA-256 login
//   - MsgID: message identifiers carried inside containers
//
// Key material never leaves the Engine and is never logged.
package secure
