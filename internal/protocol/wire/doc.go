// Package wire encodes the versioned binary messages exchanged by sessions:
// ratchet messages (with their truncated MAC), handshake messages wrapping a
// first ratchet message, and the plaintext content framing that carries the
// end-session flag. Fields are protobuf encoded by hand with protowire.
package wire
