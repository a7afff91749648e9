package store

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"

	"whisper/internal/domain"
)

// Memory is a mutex-guarded in-process KeyValueStore. Nothing is sealed.
type Memory struct {
	mu     sync.RWMutex
	spaces [2]map[string][]byte
	closed bool
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{spaces: [2]map[string][]byte{{}, {}}}
}

func (m *Memory) get(ctx context.Context, ns domain.Namespace, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.spaces[ns][key]
	return bytes.Clone(v), ok, nil
}

func (m *Memory) put(ctx context.Context, ns domain.Namespace, key string, value []byte) error {
	b := &domain.Batch{Ops: []domain.BatchOp{{Namespace: ns, Key: key, Value: value}}}
	return m.Apply(ctx, b)
}

func (m *Memory) GetEncrypted(ctx context.Context, key string) ([]byte, bool, error) {
	return m.get(ctx, domain.NamespaceEncrypted, key)
}

func (m *Memory) PutEncrypted(ctx context.Context, key string, value []byte) error {
	return m.put(ctx, domain.NamespaceEncrypted, key, value)
}

func (m *Memory) GetUnencrypted(ctx context.Context, key string) ([]byte, bool, error) {
	return m.get(ctx, domain.NamespaceUnencrypted, key)
}

func (m *Memory) PutUnencrypted(ctx context.Context, key string, value []byte) error {
	return m.put(ctx, domain.NamespaceUnencrypted, key, value)
}

func (m *Memory) Remove(ctx context.Context, ns domain.Namespace, key string) error {
	b := &domain.Batch{}
	b.Remove(ns, key)
	return m.Apply(ctx, b)
}

func (m *Memory) Keys(ctx context.Context, ns domain.Namespace, prefix string) ([]string, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var keys []string
	for k := range m.spaces[ns] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) Apply(ctx context.Context, b *domain.Batch) error {
	for _, op := range b.Ops {
		if err := checkNamespace(op.Namespace); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, op := range b.Ops {
		if op.Value == nil {
			delete(m.spaces[op.Namespace], op.Key)
			continue
		}
		m.spaces[op.Namespace][op.Key] = bytes.Clone(op.Value)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ domain.KeyValueStore = (*Memory)(nil)
