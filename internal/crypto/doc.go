// Package crypto exposes the primitives the ratchet is built from.
//
// Contents
//
//   - Curve25519 key generation with clamping, shared secrets and the 33 byte
//     public key encoding (GenerateKeyPair, SharedSecret, DecodePublicKey)
//   - XEdDSA signatures made with the Curve25519 identity key (Sign, Verify)
//   - HKDF-SHA256 producing ordered 32 byte blocks (DeriveBlocks, Derive)
//   - AES-CBC with PKCS#7 padding, AES-CTR, and HMAC-SHA256 with
//     constant-time truncated verification (EncryptCBC, EncryptCTR, MAC, VerifyMAC)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Key generation takes an io.Reader so tests can inject deterministic keys.
// Failures that reveal tampering are reported as domain.ErrAuthentication and
// malformed points as domain.ErrInvalidPoint.
package crypto
