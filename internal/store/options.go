package store

import (
	"errors"

	"whisper/internal/domain"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	errNamespace = errors.New("unknown namespace")
)

// Option configures a persistent backend.
type Option func(*options)

type options struct {
	n, r, p int
}

func defaultOptions() options {
	n, r, p := scryptParamsDefault()
	return options{n: n, r: r, p: p}
}

// WithScrypt overrides the scrypt cost used when a keystore is created.
// Existing keystores keep the parameters they were created with.
func WithScrypt(N, r, p int) Option {
	return func(o *options) {
		o.n, o.r, o.p = N, r, p
	}
}

func checkNamespace(ns domain.Namespace) error {
	switch ns {
	case domain.NamespaceEncrypted, domain.NamespaceUnencrypted:
		return nil
	default:
		return errNamespace
	}
}
