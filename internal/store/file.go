package store

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"whisper/internal/domain"
)

// fileDocument is the on-disk JSON layout of a File store.
type fileDocument struct {
	V           int               `json:"v"`
	KDF         *kdfParams        `json:"kdf"`
	Encrypted   map[string][]byte `json:"encrypted"`
	Unencrypted map[string][]byte `json:"unencrypted"`
}

// File keeps the whole keystore in one JSON document that is rewritten
// atomically on every change.
type File struct {
	path   string
	sealer *sealer

	mu     sync.RWMutex
	doc    fileDocument
	closed bool
}

// OpenFile loads or creates the document at path.
func OpenFile(path, passphrase string, opts ...Option) (*File, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f := &File{path: path}
	ok, err := readJSON(path, &f.doc)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if !ok {
		params, s, err := newParams(passphrase, o.n, o.r, o.p)
		if err != nil {
			return nil, err
		}
		f.sealer = s
		f.doc = fileDocument{
			V:           keystoreFormatVersion,
			KDF:         params,
			Encrypted:   map[string][]byte{},
			Unencrypted: map[string][]byte{},
		}
		if err := writeJSON(path, f.doc, 0o600); err != nil {
			return nil, err
		}
		return f, nil
	}

	if f.doc.V > keystoreFormatVersion {
		return nil, fmt.Errorf("store: incompatible version: %d", f.doc.V)
	}
	if f.doc.KDF == nil {
		return nil, fmt.Errorf("store: missing kdf parameters")
	}
	if f.sealer, err = openParams(passphrase, f.doc.KDF); err != nil {
		return nil, err
	}
	if f.doc.Encrypted == nil {
		f.doc.Encrypted = map[string][]byte{}
	}
	if f.doc.Unencrypted == nil {
		f.doc.Unencrypted = map[string][]byte{}
	}
	return f, nil
}

func (f *File) space(doc *fileDocument, ns domain.Namespace) map[string][]byte {
	if ns == domain.NamespaceEncrypted {
		return doc.Encrypted
	}
	return doc.Unencrypted
}

func (f *File) get(ctx context.Context, ns domain.Namespace, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return nil, false, ErrClosed
	}
	raw, ok := f.space(&f.doc, ns)[key]
	f.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if ns == domain.NamespaceEncrypted {
		pt, err := f.sealer.open(key, raw)
		if err != nil {
			return nil, false, err
		}
		return pt, true, nil
	}
	return bytes.Clone(raw), true, nil
}

func (f *File) GetEncrypted(ctx context.Context, key string) ([]byte, bool, error) {
	return f.get(ctx, domain.NamespaceEncrypted, key)
}

func (f *File) PutEncrypted(ctx context.Context, key string, value []byte) error {
	return f.Apply(ctx, &domain.Batch{Ops: []domain.BatchOp{{Namespace: domain.NamespaceEncrypted, Key: key, Value: value}}})
}

func (f *File) GetUnencrypted(ctx context.Context, key string) ([]byte, bool, error) {
	return f.get(ctx, domain.NamespaceUnencrypted, key)
}

func (f *File) PutUnencrypted(ctx context.Context, key string, value []byte) error {
	return f.Apply(ctx, &domain.Batch{Ops: []domain.BatchOp{{Namespace: domain.NamespaceUnencrypted, Key: key, Value: value}}})
}

func (f *File) Remove(ctx context.Context, ns domain.Namespace, key string) error {
	b := &domain.Batch{}
	b.Remove(ns, key)
	return f.Apply(ctx, b)
}

func (f *File) Keys(ctx context.Context, ns domain.Namespace, prefix string) ([]string, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	var keys []string
	for k := range f.space(&f.doc, ns) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Apply builds the next document from copies of the current maps, writes it
// and only then makes it current. A failed write leaves the store unchanged.
func (f *File) Apply(ctx context.Context, b *domain.Batch) error {
	values := make([][]byte, len(b.Ops))
	for i, op := range b.Ops {
		if err := checkNamespace(op.Namespace); err != nil {
			return err
		}
		if op.Value == nil || op.Namespace != domain.NamespaceEncrypted {
			values[i] = bytes.Clone(op.Value)
			continue
		}
		sealed, err := f.sealer.seal(op.Key, op.Value)
		if err != nil {
			return err
		}
		values[i] = sealed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	next := fileDocument{
		V:           f.doc.V,
		KDF:         f.doc.KDF,
		Encrypted:   maps.Clone(f.doc.Encrypted),
		Unencrypted: maps.Clone(f.doc.Unencrypted),
	}
	for i, op := range b.Ops {
		space := f.space(&next, op.Namespace)
		if values[i] == nil {
			delete(space, op.Key)
			continue
		}
		space[op.Key] = values[i]
	}
	if err := writeJSON(f.path, next, 0o600); err != nil {
		return err
	}
	f.doc = next
	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ domain.KeyValueStore = (*File)(nil)
