// Package testutil holds the injected test doubles shared by package tests:
// a replayable randomness source, an in-memory transport and an in-memory key
// directory.
package testutil
