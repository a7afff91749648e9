package testutil

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"whisper/internal/domain"
)

// MemoryTransport is an in-process domain.Transport. Every sent envelope is
// captured in order and queued for its destination.
type MemoryTransport struct {
	mu     sync.Mutex
	sent   []domain.Envelope
	queues map[domain.Address][]domain.Envelope
	seq    int

	// SendErr, when set, fails every Send.
	SendErr error
}

// NewMemoryTransport returns an empty transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{queues: map[domain.Address][]domain.Envelope{}}
}

func (t *MemoryTransport) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.seq++
	if env.ID == "" {
		env.ID = "env-" + strconv.Itoa(t.seq)
	}
	env.Body = append([]byte(nil), env.Body...)
	t.sent = append(t.sent, env)
	t.queues[env.Destination] = append(t.queues[env.Destination], env)
	return nil
}

func (t *MemoryTransport) Fetch(ctx context.Context, me domain.Address, limit int) ([]domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queues[me]
	if limit > 0 && len(q) > limit {
		q = q[:limit]
	}
	return slices.Clone(q), nil
}

func (t *MemoryTransport) Ack(ctx context.Context, me domain.Address, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queues[me]
	for i, env := range q {
		if env.ID == id {
			t.queues[me] = slices.Delete(q, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("envelope %s not queued for %s", id, me)
}

// Sent returns a copy of every envelope sent so far.
func (t *MemoryTransport) Sent() []domain.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

// Queued returns the envelopes waiting for me.
func (t *MemoryTransport) Queued(me domain.Address) []domain.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.queues[me])
}

// Inject queues env for its destination without recording it as sent.
func (t *MemoryTransport) Inject(env domain.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[env.Destination] = append(t.queues[env.Destination], env)
}

var _ domain.Transport = (*MemoryTransport)(nil)
