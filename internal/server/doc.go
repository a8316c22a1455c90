// Package server carries the lounge chat room over the network.
//
// Two transports feed the same room. The SSH listener authenticates by public
// key during the handshake and runs an interactive line editor on the
// session channel. The optional HTTP listener upgrades /ws to a WebSocket
// and authenticates the same keys with a signed challenge. Both hand every
// complete line to the command processor and drain the session's outbound
// queue back to the peer.
package server
