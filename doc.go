// Package wyvern contains the core APIs for ZeroMQ-style sockets,
// currently the publishing half of the PUB/SUB pattern.
//
// A [PubSocket] fans messages out to every connected peer
// whose subscription list matches,
// while background loops consume the subscription control messages
// those peers send back.
// Peers reach a socket through pluggable transports;
// see the wquic, wws, and winproc packages.
package wyvern
