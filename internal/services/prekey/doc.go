// Package prekey publishes and maintains the pre-keys peers use to start
// sessions with us.
//
// Register uploads the identity key, the current signed pre-key and every
// held one-time pre-key. Rotate and Replenish change the KeyStore first and
// then republish, so the directory never advertises a key we do not hold.
package prekey
