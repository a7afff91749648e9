// Package store provides the key-value backends behind the KeyStore.
//
// Every backend implements domain.KeyValueStore with two namespaces. The
// encrypted namespace holds key material and session records; the
// unencrypted namespace holds ids and trusted remote identities.
//
// The package includes:
//   - Memory: mutex-guarded maps, used by tests and the in-process relay demo
//   - Bolt: a bbolt database with encrypted, unencrypted and metadata buckets
//   - File: a single JSON document replaced atomically on every write
//
// Persistent backends seal encrypted values with XChaCha20-Poly1305 under a
// key derived from the passphrase with scrypt. The key name is the associated
// data. Opening with the wrong passphrase fails with ErrWrongPassphrase.
//
// Apply is all-or-nothing on every backend: Bolt uses one transaction, File
// swaps documents only after the rename succeeds, Memory holds its lock for
// the whole batch.
package store
