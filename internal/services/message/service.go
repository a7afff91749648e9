package message

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"whisper/internal/domain"
	"whisper/internal/log"
	"whisper/internal/metrics"
	"whisper/internal/protocol/wire"
	"whisper/internal/util/lockmap"
)

// DefaultFetchLimit bounds how many envelopes Receive pulls per call.
const DefaultFetchLimit = 100

// Service is the protocol driver. It resolves or establishes sessions for
// outgoing messages, frames content, and dispatches incoming envelopes to the
// session engine.
//
// High-level flow:
//   - Send: establish from a fetched bundle if there is no live session,
//     encrypt and post through the transport.
//   - Receive: fetch envelopes, decrypt those of one sender in order and
//     different senders concurrently, then ack everything that was either
//     accepted or rejected for good.
type Service struct {
	local     domain.Address
	engine    domain.SessionEngine
	bundles   domain.BundleFetcher
	transport domain.Transport
	prekeys   domain.PreKeyService

	metrics *metrics.Driver
	log     *logging.Logger
	locks   *lockmap.Map[domain.Address]
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics sets the collectors the driver reports to.
func WithMetrics(m *metrics.Driver) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.log = l } }

// New constructs the driver for the local device. prekeys may be nil, in
// which case consumed one-time pre-keys are not replenished.
func New(
	local domain.Address,
	engine domain.SessionEngine,
	bundles domain.BundleFetcher,
	transport domain.Transport,
	prekeys domain.PreKeyService,
	opts ...Option,
) *Service {
	s := &Service{
		local:     local,
		engine:    engine,
		bundles:   bundles,
		transport: transport,
		prekeys:   prekeys,
		locks:     lockmap.New[domain.Address](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewDriver(nil)
	}
	if s.log == nil {
		s.log = log.Discard("driver")
	}
	return s
}

// EncryptOutgoing returns the envelope carrying plaintext to peer. A peer
// without an established session gets a fresh one from its published bundle.
func (s *Service) EncryptOutgoing(ctx context.Context, peer domain.Address, plaintext []byte) (domain.Envelope, error) {
	unlock, err := s.locks.Lock(ctx, peer)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer unlock()

	if err := s.ensureSession(ctx, peer); err != nil {
		return domain.Envelope{}, err
	}
	return s.encrypt(ctx, peer, &wire.Content{Body: plaintext})
}

func (s *Service) ensureSession(ctx context.Context, peer domain.Address) error {
	st, err := s.engine.Status(ctx, peer)
	if err != nil {
		return err
	}
	if st == domain.StatusEstablished {
		return nil
	}

	bundle, err := s.bundles.FetchBundle(ctx, peer)
	if err != nil {
		return fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}
	if bundle.Address != peer {
		return fmt.Errorf("%w: bundle for %s returned for %s", domain.ErrInvalidMessage, bundle.Address, peer)
	}
	if err := s.engine.EstablishOutgoing(ctx, bundle); err != nil {
		return err
	}
	s.metrics.Established.Inc()
	if bundle.PreKey == nil {
		s.log.Warningf("%s has no one-time pre-keys left; session uses the signed pre-key only", peer)
	}
	return nil
}

func (s *Service) encrypt(ctx context.Context, peer domain.Address, c *wire.Content) (domain.Envelope, error) {
	env, err := s.engine.Encrypt(ctx, peer, c.Marshal())
	if err != nil {
		return domain.Envelope{}, err
	}
	s.metrics.Encrypted.WithLabelValues(env.Type.String()).Inc()
	return env, nil
}

// DecryptIncoming authenticates and decrypts env. An END_SESSION message
// closes the local session too. Consuming a one-time pre-key triggers
// replenishment, whose failure is logged and not returned.
func (s *Service) DecryptIncoming(ctx context.Context, env domain.Envelope) (domain.DecryptedMessage, error) {
	unlock, err := s.locks.Lock(ctx, env.Source)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	defer unlock()

	raw, consumed, err := s.engine.Decrypt(ctx, env)
	if err != nil {
		if domain.IsRejection(err) {
			s.metrics.Rejected.WithLabelValues(metrics.Reason(err)).Inc()
			s.log.Warningf("Rejected %s envelope %s from %s: %v", env.Type, env.ID, env.Source, err)
		}
		return domain.DecryptedMessage{}, err
	}
	s.metrics.Decrypted.WithLabelValues(env.Type.String()).Inc()
	// The session state is committed; finish even if the caller gives up.
	ctx = context.WithoutCancel(ctx)

	if consumed && s.prekeys != nil {
		n, err := s.prekeys.Replenish(ctx)
		if err != nil {
			s.log.Errorf("Failed to replenish one-time pre-keys: %v", err)
		} else if n > 0 {
			s.metrics.Replenished.Add(float64(n))
		}
	}

	c, err := wire.ParseContent(raw)
	if err != nil {
		s.metrics.Rejected.WithLabelValues(metrics.Reason(err)).Inc()
		return domain.DecryptedMessage{}, err
	}

	msg := domain.DecryptedMessage{
		ID:         env.ID,
		From:       env.Source,
		Body:       c.Body,
		EndSession: c.EndSession(),
		Timestamp:  env.Timestamp,
	}
	if msg.EndSession {
		if err := s.engine.Close(ctx, env.Source); err != nil {
			return domain.DecryptedMessage{}, err
		}
		s.metrics.Closed.Inc()
		s.log.Infof("%s ended the session", env.Source)
	}
	return msg, nil
}

// CloseSession encrypts an END_SESSION control message for peer and then
// marks the local session closed. The returned envelope still has to be
// delivered.
func (s *Service) CloseSession(ctx context.Context, peer domain.Address) (domain.Envelope, error) {
	unlock, err := s.locks.Lock(ctx, peer)
	if err != nil {
		return domain.Envelope{}, err
	}
	defer unlock()

	env, err := s.encrypt(ctx, peer, &wire.Content{Flags: wire.FlagEndSession})
	if err != nil {
		return domain.Envelope{}, err
	}
	if err := s.engine.Close(ctx, peer); err != nil {
		return domain.Envelope{}, err
	}
	s.metrics.Closed.Inc()
	return env, nil
}

// Send encrypts plaintext for peer and hands the envelope to the transport.
func (s *Service) Send(ctx context.Context, peer domain.Address, plaintext []byte) (domain.Envelope, error) {
	env, err := s.EncryptOutgoing(ctx, peer, plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}
	if err := s.transport.Send(ctx, env); err != nil {
		return domain.Envelope{}, fmt.Errorf("send to %s: %w", peer, err)
	}
	return env, nil
}

// End closes the session with peer and delivers the END_SESSION message.
func (s *Service) End(ctx context.Context, peer domain.Address) error {
	env, err := s.CloseSession(ctx, peer)
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, env)
}

// Receive fetches up to limit queued envelopes and processes them. It
// returns the decrypted messages in fetch order together with the joined
// per-envelope errors. Envelopes that failed for a reason other than a
// protocol rejection are left queued for the next call.
//
// Cancellation stops each sender's loop before its next envelope. Messages
// decrypted so far are still returned and acked, with ctx.Err() joined into
// the error: their session state is already committed, so a redelivery would
// only be rejected as a duplicate.
func (s *Service) Receive(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	envs, err := s.transport.Fetch(ctx, s.local, limit)
	if err != nil {
		return nil, err
	}

	bySource := make(map[domain.Address][]int)
	var order []domain.Address
	for i, env := range envs {
		if _, ok := bySource[env.Source]; !ok {
			order = append(order, env.Source)
		}
		bySource[env.Source] = append(bySource[env.Source], i)
	}

	msgs := make([]*domain.DecryptedMessage, len(envs))
	errs := make([]error, len(envs))
	ackCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, src := range order {
		idxs := bySource[src]
		g.Go(func() error {
			for _, i := range idxs {
				if ctx.Err() != nil {
					return nil
				}
				env := envs[i]
				msg, err := s.DecryptIncoming(ctx, env)
				if err == nil {
					msgs[i] = &msg
				} else {
					errs[i] = fmt.Errorf("envelope %s from %s: %w", env.ID, env.Source, err)
					if !domain.IsRejection(err) {
						continue
					}
				}
				if err := s.transport.Ack(ackCtx, s.local, env.ID); err != nil {
					errs[i] = errors.Join(errs[i], fmt.Errorf("ack %s: %w", env.ID, err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.DecryptedMessage, 0, len(envs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, errors.Join(append([]error{ctx.Err()}, errs...)...)
}
