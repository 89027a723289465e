// Package fah connects to a Busch-Jaeger free@home System Access Point.
//
// A Session owns the XMPP stream to the SysAP, the encrypted handshake
// required by firmware 2.3.0 and later, the RPC client used for commands
// and configuration, and the device registry that update messages feed.
//
// # Connecting
//
//	s, err := fah.New(fah.Config{Host: "192.168.1.10", Username: "installer", Password: pw})
//	if err != nil { ... }
//	if err := s.Connect(ctx); err != nil { ... }
//	switch err := s.WaitForConnection(ctx); {
//	case errors.Is(err, fah.ErrAuthFailed):
//	    // wrong credentials
//	case err != nil:
//	    // unreachable, the session keeps retrying
//	}
//	n, err := s.FindDevices(ctx)
//
// # Updates
//
// The SysAP publishes changed datapoints on a pub-sub node. Encrypted
// updates are sealed with the session's symmetric key and carry a zlib
// compressed XML fragment. Decoded messages go to the update handlers
// first, then to the registry, which notifies every device that received
// one of its datapoints.
//
// # Subpackages
//
//   - wire: little-endian message codec
//   - secure: key exchange, container crypto, pub-sub decryption, SCRAM
//   - handshake: the login state machine run over RPC
//   - xmpp: the stream client
//   - rpc: XML-RPC over IQ
//   - settings: the public settings.json document
//   - fahtest: a loopback fake SysAP for tests
package fah
