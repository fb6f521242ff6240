// Package wframe defines the frame model shared by socket engines and
// transports, and the codec that carries frames over a byte stream.
//
// The stream encoding of a frame is a flags byte
// (with MORE, LONG, and COMMAND bits),
// then a one- or eight-byte big-endian payload length,
// then the payload itself.
// Transports whose carrier already preserves message boundaries
// use the shorter form produced by [AppendWire],
// which omits the length.
package wframe
