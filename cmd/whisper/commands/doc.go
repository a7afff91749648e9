// Package commands defines the whisper CLI.
//
// Commands
//
//   - init         Create the local identity, signed pre-key and one-time pre-keys
//   - fingerprint  Print the identity fingerprint
//   - register     Publish the pre-key bundle to the relay
//   - rotate       Rotate the signed pre-key and republish
//   - send         Encrypt and send a message, establishing a session if needed
//   - recv         Fetch, decrypt and acknowledge queued messages
//   - end          Close the session with a peer and notify them
//
// Peers are addressed as name or name.device; a bare name means device 1.
//
// # Implementation
//
// The root command loads the TOML config from --config (default
// <home>/whisper.toml), applies flag overrides and builds the dependency
// graph before any subcommand runs. The graph is closed after the
// subcommand returns so the key store is released.
package commands
