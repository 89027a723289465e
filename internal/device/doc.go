// Package device models the channels of a free@home installation as
// typed devices and keeps them in sync with the SysAP.
//
// # Discovery
//
// Registry.Discover reads the getAll configuration XML. Every device that
// is commissioned and not external is walked channel by channel:
//
//	channel mask & selector mask == 0   → skipped (other hardware mode)
//	no room assigned                    → skipped
//	functionId → classifier per kind    → pairing ids to resolve
//	pairing ids → <dataPoint i=...>     → datapoint addresses
//
// A kind whose pairing ids resolve to at least one datapoint becomes a
// device. Output datapoints and parameters are indexed by their address
// serial/channel/id.
//
// # Updates
//
// Registry.Update routes every datapoint of an update message through the
// index to the owning device. A device changed by a message is notified
// once, after the whole message is applied. Discover seeds initial state
// the same way from the configuration it just read.
//
// # Commands
//
// Commands write a value to a datapoint resolved at discovery through the
// Writer passed to NewRegistry. A command whose datapoint was not resolved
// returns ErrUnsupported.
package device
