// Package metrics defines the prometheus collectors for the protocol driver
// and the relay.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"whisper/internal/domain"
)

const namespace = "whisper"

// Driver counts what the protocol driver does with messages.
type Driver struct {
	Encrypted   *prometheus.CounterVec
	Decrypted   *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	Established prometheus.Counter
	Closed      prometheus.Counter
	Replenished prometheus.Counter
}

// NewDriver creates the driver collectors and registers them with reg when
// reg is not nil.
func NewDriver(reg prometheus.Registerer) *Driver {
	d := &Driver{
		Encrypted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_encrypted_total",
				Help:      "Number of outgoing messages encrypted, by envelope type",
			},
			[]string{"type"},
		),
		Decrypted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_decrypted_total",
				Help:      "Number of incoming messages decrypted, by envelope type",
			},
			[]string{"type"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_rejected_total",
				Help:      "Number of incoming messages rejected, by reason",
			},
			[]string{"reason"},
		),
		Established: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_established_total",
				Help:      "Number of outgoing sessions established from fetched bundles",
			},
		),
		Closed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_closed_total",
				Help:      "Number of sessions closed locally or by the peer",
			},
		),
		Replenished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prekeys_replenished_total",
				Help:      "Number of one-time pre-keys generated by replenishment",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(d.Encrypted, d.Decrypted, d.Rejected, d.Established, d.Closed, d.Replenished)
	}
	return d
}

// Relay counts relay traffic.
type Relay struct {
	Requests      *prometheus.CounterVec
	Queued        prometheus.Gauge
	BundlesServed prometheus.Counter
	PreKeysEmpty  prometheus.Counter
}

// NewRelay creates the relay collectors and registers them with reg when reg
// is not nil.
func NewRelay(reg prometheus.Registerer) *Relay {
	r := &Relay{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "requests_total",
				Help:      "Number of relay requests, by route and status code",
			},
			[]string{"route", "code"},
		),
		Queued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "queued_envelopes",
				Help:      "Number of envelopes waiting to be fetched",
			},
		),
		BundlesServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "bundles_served_total",
				Help:      "Number of pre-key bundles handed out",
			},
		),
		PreKeysEmpty: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "bundles_without_prekey_total",
				Help:      "Number of bundles served after the one-time pre-keys ran out",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(r.Requests, r.Queued, r.BundlesServed, r.PreKeysEmpty)
	}
	return r
}

var reasons = []struct {
	err   error
	label string
}{
	{domain.ErrAuthentication, "authentication"},
	{domain.ErrDuplicateMessage, "duplicate"},
	{domain.ErrNoSession, "no_session"},
	{domain.ErrPreKeyNotFound, "prekey_not_found"},
	{domain.ErrStaleSession, "stale_session"},
	{domain.ErrInvalidMessage, "invalid_message"},
	{domain.ErrInvalidPoint, "invalid_point"},
	{domain.ErrInvalidSignature, "invalid_signature"},
	{domain.ErrUntrustedIdentity, "untrusted_identity"},
	{domain.ErrTooManySkipped, "too_many_skipped"},
}

// Reason maps err to a low-cardinality label value.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "other"
}
