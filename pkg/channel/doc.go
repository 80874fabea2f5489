// Package channel provides the byte-stream link to the peer device.
package channel

// A Channel wraps a serial port (or a simulated device) and is the only
// reader of it: a background pump moves received bytes into an input
// buffer, from which lines are consumed.
//
// Mux sits on top of a Channel as the single consumer of lines. It hands
// each line either to the exchange currently waiting for a response
// (ping, request) or to the informational stream, so the two logical
// readers never compete for the same bytes.
