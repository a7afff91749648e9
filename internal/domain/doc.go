// Package domain defines the data model, error taxonomy and collaborator
// contracts shared by the protocol engine and its adapters.
// It contains plain types and interfaces only.
package domain
