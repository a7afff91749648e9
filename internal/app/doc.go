// Package app loads configuration and wires application dependencies for
// the CLI and the relay daemon.
//
// Configuration is TOML. Every section is optional and FixupAndValidate fills
// in defaults:
//
//	[Account]
//	  Name = "alice"
//	  DeviceID = 1
//
//	[Keystore]
//	  Backend = "bolt"          # bolt, file or memory
//	  Path = "keystore.bolt"    # relative to Home
//	  PreKeyBatch = 100
//	  PreKeyLowWater = 10
//
//	[Relay]
//	  URL = "http://127.0.0.1:8080"
//	  Timeout = "10s"
//
//	[Server]
//	  Listen = ":8080"
//
//	[Logging]
//	  Level = "NOTICE"
//	  File = ""                 # absolute path; empty means stderr
//	  Disable = false
//
// NewWire builds the stores, relay client and services from a Config.
package app
