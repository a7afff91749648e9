// Package ratchet implements the double ratchet state transitions over a
// domain.SessionRecord.
//
// The record keeps a root key, one sending chain and up to MaxReceivingChains
// receiving chains. Every message advances a chain key through HMAC, so keys
// are forward secure. When the peer presents a new ratchet public key the
// root key absorbs two Diffie-Hellman outputs: one opens the new receiving
// chain, the other a sending chain under a freshly generated ratchet key.
// Counters skipped on a chain leave their key seeds in a bounded cache so that
// reordered messages still decrypt; a counter that is neither ahead of its
// chain nor cached is a duplicate.
//
// Concurrency: a SessionRecord is NOT safe for concurrent use. Callers must
// serialise access per session and commit the mutated record only after the
// message has authenticated.
package ratchet
